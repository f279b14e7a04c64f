// Package contact keeps the page's cached contact book in sync with the
// document database and fans broadcasts out to every contact.
package contact

import (
	"context"
	"errors"
)

type Contact struct {
	ID          string `json:"contactId"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
}

type Dispatch struct {
	ID      string `json:"dispatchId"`
	Message string `json:"message"`
}

type Message struct {
	DispatchID string `json:"dispatchId"`
	Message    string `json:"message"`
}

// Book is the cached copy of the contacts collection held by one page.
type Book struct {
	Contacts []Contact `json:"contacts"`
	Loaded   bool      `json:"loaded"`
}

func (b *Book) Len() int {
	return len(b.Contacts)
}

// ErrPartialDispatch is wrapped when some per-contact messages were not written.
var ErrPartialDispatch = errors.New("dispatch partially delivered")

// Store is the document database as seen by the contact page.
type Store interface {
	ListContacts(ctx context.Context) ([]Contact, error)
	// CreateContact returns the provider-assigned id.
	CreateContact(ctx context.Context, c Contact) (string, error)
	// DeleteContact succeeds when the contact does not exist.
	DeleteContact(ctx context.Context, id string) error
	CreateDispatch(ctx context.Context, message string) (string, error)
	CreateMessage(ctx context.Context, contactID string, m Message) (string, error)
	// CreateDispatchWithMessages writes the dispatch and every message in one
	// transaction and returns the dispatch id.
	CreateDispatchWithMessages(ctx context.Context, message string, contactIDs []string) (string, error)
}
