package page

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/klipach/contactcast/contact"
	"github.com/redis/go-redis/v9"
)

type Modal string

const (
	ModalIdle    Modal = "idle"
	ModalOpen    Modal = "open"
	ModalSending Modal = "sending"
)

// State is what a single browser page holds between requests: the cached
// contact book, the add-contact form, and the broadcast modal.
type State struct {
	// UID is the user the book was loaded for; a different user resets the state.
	UID          string          `json:"uid"`
	Book         contact.Book    `json:"book"`
	Draft        contact.Contact `json:"draft"`
	Modal        Modal           `json:"modal"`
	Message      string          `json:"message"`
	LastDispatch string          `json:"lastDispatch"`
}

func newState(uid string) *State {
	return &State{UID: uid, Modal: ModalIdle}
}

type StateStore interface {
	// Load returns nil, nil when id has no state.
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, id string, s *State) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStateStore keeps page state in process. States are copied on the way
// in and out so callers never share slices.
type MemoryStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStateStore) Load(_ context.Context, id string) (*State, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok && s.ttl > 0 && s.now().After(entry.expiresAt) {
		delete(s.entries, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var st State
	if err := json.Unmarshal(entry.data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *MemoryStateStore) Save(_ context.Context, id string, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, entry := range s.entries {
		if s.ttl > 0 && now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.entries[id] = memoryEntry{data: data, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

const redisKeyPrefix = "contactcast:state:"

// RedisStateStore shares page state between function instances.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{client: client, ttl: ttl}
}

func (s *RedisStateStore) Load(ctx context.Context, id string) (*State, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RedisStateStore) Save(ctx context.Context, id string, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+id, data, s.ttl).Err()
}

func (s *RedisStateStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, redisKeyPrefix+id).Err()
}
