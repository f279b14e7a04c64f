package contract

// Form field names shared by the templates and the handlers.
const (
	FormEmail       = "email"
	FormPassword    = "password"
	FormName        = "name"
	FormPhoneNumber = "phoneNumber"
	FormMessage     = "message"
)

type CredentialsForm struct {
	Email    string
	Password string
}

type ContactForm struct {
	Name        string
	PhoneNumber string
	Email       string
}

type DispatchForm struct {
	Message string
}
