package contact

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/klipach/contactcast/apperr"
)

// MemoryStore keeps everything in process memory. It backs local development
// (store.driver: memory) and tests.
type MemoryStore struct {
	mu         sync.Mutex
	limit      int
	order      []string
	contacts   map[string]Contact
	dispatches map[string]Dispatch
	messages   map[string][]Message
}

// NewMemoryStore returns an empty store. A positive limit rejects creates
// once that many contacts exist.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{
		limit:      limit,
		contacts:   make(map[string]Contact),
		dispatches: make(map[string]Dispatch),
		messages:   make(map[string][]Message),
	}
}

func (s *MemoryStore) ListContacts(_ context.Context) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contacts := make([]Contact, 0, len(s.order))
	for _, id := range s.order {
		contacts = append(contacts, s.contacts[id])
	}
	return contacts, nil
}

func (s *MemoryStore) CreateContact(_ context.Context, c Contact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.order) >= s.limit {
		return "", apperr.Errorf(apperr.KindLimit, "createContact", "contact limit %d reached", s.limit)
	}
	c.ID = uuid.NewString()
	s.contacts[c.ID] = c
	s.order = append(s.order, c.ID)
	return c.ID, nil
}

func (s *MemoryStore) DeleteContact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[id]; !ok {
		return nil
	}
	delete(s.contacts, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) CreateDispatch(_ context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.dispatches[id] = Dispatch{ID: id, Message: message}
	return id, nil
}

// CreateMessage does not check that the contact exists, matching the
// document database where subcollections need no parent document.
func (s *MemoryStore) CreateMessage(_ context.Context, contactID string, m Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[contactID] = append(s.messages[contactID], m)
	return uuid.NewString(), nil
}

func (s *MemoryStore) CreateDispatchWithMessages(_ context.Context, message string, contactIDs []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.dispatches[id] = Dispatch{ID: id, Message: message}
	for _, contactID := range contactIDs {
		s.messages[contactID] = append(s.messages[contactID], Message{DispatchID: id, Message: message})
	}
	return id, nil
}

func (s *MemoryStore) Dispatches() []Dispatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Dispatch, 0, len(s.dispatches))
	for _, d := range s.dispatches {
		out = append(out, d)
	}
	return out
}

func (s *MemoryStore) Messages(contactID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[contactID]...)
}
