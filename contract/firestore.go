package contract

const (
	FirestoreContactsCollection   = "contacts"
	FirestoreDispatchesCollection = "dispatches"
	FirestoreMessagesCollection   = "messages"
)

type FirestoreContact struct {
	Name        string `firestore:"name"`
	PhoneNumber string `firestore:"phoneNumber"`
	Email       string `firestore:"email"`
}

type FirestoreDispatch struct {
	Message string `firestore:"message"`
}

// FirestoreMessage lives under contacts/{contactID}/messages.
type FirestoreMessage struct {
	DispatchID string `firestore:"dispatchId"`
	Message    string `firestore:"message"`
}
