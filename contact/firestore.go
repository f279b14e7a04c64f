package contact

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/klipach/contactcast/apperr"
	"github.com/klipach/contactcast/contract"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errLimitReached = errors.New("contact limit reached")

// FirestoreStore keeps contacts in the top-level "contacts" collection,
// broadcasts in "dispatches" and per-contact messages in
// "contacts/{id}/messages".
type FirestoreStore struct {
	client *firestore.Client
	limit  int
}

// NewFirestoreStore wraps client. A positive limit makes CreateContact check
// the collection size inside a transaction.
func NewFirestoreStore(client *firestore.Client, limit int) *FirestoreStore {
	return &FirestoreStore{client: client, limit: limit}
}

func (s *FirestoreStore) contacts() *firestore.CollectionRef {
	return s.client.Collection(contract.FirestoreContactsCollection)
}

func (s *FirestoreStore) messages(contactID string) *firestore.CollectionRef {
	return s.contacts().Doc(contactID).Collection(contract.FirestoreMessagesCollection)
}

func (s *FirestoreStore) ListContacts(ctx context.Context) ([]Contact, error) {
	docs, err := s.contacts().Documents(ctx).GetAll()
	if err != nil {
		return nil, firestoreError(apperr.KindRead, "listContacts", err)
	}
	contacts := make([]Contact, 0, len(docs))
	for _, doc := range docs {
		var fc contract.FirestoreContact
		if err := doc.DataTo(&fc); err != nil {
			return nil, apperr.New(apperr.KindRead, "listContacts", fmt.Errorf("decode %s: %w", doc.Ref.ID, err))
		}
		contacts = append(contacts, contactFromFirestore(doc.Ref.ID, fc))
	}
	return contacts, nil
}

func (s *FirestoreStore) CreateContact(ctx context.Context, c Contact) (string, error) {
	data := contactToFirestore(c)
	if s.limit <= 0 {
		ref, _, err := s.contacts().Add(ctx, data)
		if err != nil {
			return "", firestoreError(apperr.KindWrite, "createContact", err)
		}
		return ref.ID, nil
	}

	ref := s.contacts().NewDoc()
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(s.contacts()).GetAll()
		if err != nil {
			return err
		}
		if len(existing) >= s.limit {
			return errLimitReached
		}
		return tx.Create(ref, data)
	})
	if errors.Is(err, errLimitReached) {
		return "", apperr.New(apperr.KindLimit, "createContact", err)
	}
	if err != nil {
		return "", firestoreError(apperr.KindWrite, "createContact", err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) DeleteContact(ctx context.Context, id string) error {
	if _, err := s.contacts().Doc(id).Delete(ctx); err != nil {
		return firestoreError(apperr.KindWrite, "deleteContact", err)
	}
	return nil
}

func (s *FirestoreStore) CreateDispatch(ctx context.Context, message string) (string, error) {
	ref, _, err := s.client.Collection(contract.FirestoreDispatchesCollection).Add(ctx, contract.FirestoreDispatch{Message: message})
	if err != nil {
		return "", firestoreError(apperr.KindWrite, "createDispatch", err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) CreateMessage(ctx context.Context, contactID string, m Message) (string, error) {
	ref, _, err := s.messages(contactID).Add(ctx, contract.FirestoreMessage{DispatchID: m.DispatchID, Message: m.Message})
	if err != nil {
		return "", firestoreError(apperr.KindWrite, "createMessage", err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) CreateDispatchWithMessages(ctx context.Context, message string, contactIDs []string) (string, error) {
	dispatchRef := s.client.Collection(contract.FirestoreDispatchesCollection).NewDoc()
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(dispatchRef, contract.FirestoreDispatch{Message: message}); err != nil {
			return err
		}
		for _, contactID := range contactIDs {
			m := contract.FirestoreMessage{DispatchID: dispatchRef.ID, Message: message}
			if err := tx.Create(s.messages(contactID).NewDoc(), m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", firestoreError(apperr.KindWrite, "createDispatchWithMessages", err)
	}
	return dispatchRef.ID, nil
}

func contactFromFirestore(id string, fc contract.FirestoreContact) Contact {
	return Contact{ID: id, Name: fc.Name, PhoneNumber: fc.PhoneNumber, Email: fc.Email}
}

func contactToFirestore(c Contact) contract.FirestoreContact {
	return contract.FirestoreContact{Name: c.Name, PhoneNumber: c.PhoneNumber, Email: c.Email}
}

// firestoreError tags err with kind, or KindNetwork when the backend was unreachable.
func firestoreError(kind apperr.Kind, op string, err error) *apperr.Error {
	code := status.Code(err)
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded:
		kind = apperr.KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = apperr.KindNetwork
	}
	return apperr.WithCode(kind, op, code.String(), err)
}
