package page

import (
	"encoding/gob"
	"fmt"
	"time"
)

// NoticeAutoHide is how long the banner stays on screen.
const NoticeAutoHide = 6 * time.Second

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

type Notice struct {
	Severity Severity
	Text     string
}

const (
	textSignInFailed    = "Wrong email or password!"
	textSignInSucceeded = "Signed in successfully!"
	textSignInRetry     = "Error logging in. Please try again."
	textSignUpFailed    = "Sign up failed!"
	textSignUpSucceeded = "Signed up successfully!"
	textSignedOut       = "Signed out."
	textSignOutFailed   = "Sign out failed. Please try again."
	textRevokeFailed    = "Other devices could not be signed out."
	textOpSucceeded     = "Operation completed successfully!"
	textOpFailed        = "Failed to complete the operation."
)

func init() {
	gob.Register(Notice{})
}

func success(text string) Notice {
	return Notice{Severity: SeveritySuccess, Text: text}
}

func failure(text string) Notice {
	return Notice{Severity: SeverityError, Text: text}
}

func partialFailure(failed, total int) Notice {
	return failure(fmt.Sprintf("%s %d of %d messages were not delivered.", textOpFailed, failed, total))
}
