package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/klipach/contactcast/apperr"
	"github.com/klipach/contactcast/log"
	"github.com/klipach/contactcast/metrics"
)

const (
	ErrorMsgLogField  = "errorMsg"
	contactIDLogField = "contactID"
	dispatchLogField  = "dispatchID"
	countLogField     = "count"
)

// DefaultLimit is the maximum number of contacts a page lets the user add.
const DefaultLimit = 5

type Mode int

const (
	// BestEffort writes messages one by one and reports the contacts that failed.
	BestEffort Mode = iota
	// Atomic writes the dispatch and all messages in one transaction.
	Atomic
)

// Report describes the outcome of one broadcast.
type Report struct {
	DispatchID string
	Delivered  []string
	Failed     []string
}

type Client struct {
	store Store
	limit int
	mode  Mode
}

func NewClient(store Store, limit int, mode Mode) *Client {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Client{store: store, limit: limit, mode: mode}
}

func (c *Client) Limit() int {
	return c.limit
}

// Load replaces the book with the stored contacts. On failure the book is left
// unloaded so the next page view tries again.
func (c *Client) Load(ctx context.Context, b *Book) (err error) {
	defer metrics.Observe("listContacts", time.Now(), &err)
	logger := log.LoggerFromContext(ctx)

	contacts, err := c.store.ListContacts(ctx)
	if err != nil {
		logger.Error("error while listing contacts", slog.String(ErrorMsgLogField, err.Error()))
		return err
	}
	b.Contacts = contacts
	b.Loaded = true
	logger.Info("contacts loaded", slog.Int(countLogField, len(contacts)))
	return nil
}

// Add stores in and appends it to the book. It is a no-op returning false when
// the trimmed name is empty or the book already holds Limit contacts.
// The limit check is advisory: concurrent pages can push the collection past it
// unless the store enforces the limit itself.
func (c *Client) Add(ctx context.Context, b *Book, in Contact) (bool, error) {
	logger := log.LoggerFromContext(ctx)
	in = Contact{
		Name:        strings.TrimSpace(in.Name),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		Email:       strings.TrimSpace(in.Email),
	}
	if in.Name == "" || b.Len() >= c.limit {
		metrics.Operations.WithLabelValues("createContact", metrics.OutcomeSkipped).Inc()
		logger.Info("contact not added", slog.Int(countLogField, b.Len()), slog.Bool("emptyName", in.Name == ""))
		return false, nil
	}

	var err error
	defer metrics.Observe("createContact", time.Now(), &err)
	id, err := c.store.CreateContact(ctx, in)
	if err != nil {
		logger.Error("error while adding contact", slog.String(ErrorMsgLogField, err.Error()))
		return false, err
	}
	in.ID = id

	contacts := make([]Contact, 0, len(b.Contacts)+1)
	contacts = append(contacts, b.Contacts...)
	b.Contacts = append(contacts, in)
	logger.Info("contact added", slog.String(contactIDLogField, id))
	return true, nil
}

// Remove deletes the contact and filters it out of the book. Removing an id
// that is not stored is not an error.
func (c *Client) Remove(ctx context.Context, b *Book, id string) (err error) {
	defer metrics.Observe("deleteContact", time.Now(), &err)
	logger := log.LoggerFromContext(ctx).With(slog.String(contactIDLogField, id))

	if err = c.store.DeleteContact(ctx, id); err != nil {
		logger.Error("error while removing contact", slog.String(ErrorMsgLogField, err.Error()))
		return err
	}

	kept := make([]Contact, 0, len(b.Contacts))
	for _, contact := range b.Contacts {
		if contact.ID != id {
			kept = append(kept, contact)
		}
	}
	b.Contacts = kept
	logger.Info("contact removed")
	return nil
}

// Dispatch records message once and writes one message per contact in the
// book as it is now, not as it is stored.
func (c *Client) Dispatch(ctx context.Context, b *Book, message string) (report *Report, err error) {
	defer metrics.Observe("dispatch", time.Now(), &err)
	if c.mode == Atomic {
		return c.dispatchAtomic(ctx, b, message)
	}
	logger := log.LoggerFromContext(ctx)

	dispatchID, err := c.store.CreateDispatch(ctx, message)
	if err != nil {
		logger.Error("error while creating dispatch", slog.String(ErrorMsgLogField, err.Error()))
		return nil, err
	}
	logger = logger.With(slog.String(dispatchLogField, dispatchID))
	logger.Info("dispatch created")

	report = &Report{DispatchID: dispatchID}
	var errs []error
	for _, contact := range b.Contacts {
		_, werr := c.store.CreateMessage(ctx, contact.ID, Message{DispatchID: dispatchID, Message: message})
		if werr != nil {
			metrics.DispatchMessages.WithLabelValues(metrics.OutcomeFailure).Inc()
			logger.Error("error while writing message",
				slog.String(contactIDLogField, contact.ID),
				slog.String(ErrorMsgLogField, werr.Error()),
			)
			report.Failed = append(report.Failed, contact.ID)
			errs = append(errs, werr)
			continue
		}
		metrics.DispatchMessages.WithLabelValues(metrics.OutcomeSuccess).Inc()
		report.Delivered = append(report.Delivered, contact.ID)
	}

	if len(report.Failed) > 0 {
		return report, apperr.New(apperr.KindWrite, "dispatch", fmt.Errorf(
			"%w: %d of %d messages failed: %w",
			ErrPartialDispatch, len(report.Failed), len(b.Contacts), errors.Join(errs...),
		))
	}
	logger.Info("dispatch delivered", slog.Int(countLogField, len(report.Delivered)))
	return report, nil
}

func (c *Client) dispatchAtomic(ctx context.Context, b *Book, message string) (*Report, error) {
	logger := log.LoggerFromContext(ctx)

	ids := make([]string, 0, len(b.Contacts))
	for _, contact := range b.Contacts {
		ids = append(ids, contact.ID)
	}
	dispatchID, err := c.store.CreateDispatchWithMessages(ctx, message, ids)
	if err != nil {
		metrics.DispatchMessages.WithLabelValues(metrics.OutcomeFailure).Add(float64(len(ids)))
		logger.Error("error while writing dispatch batch", slog.String(ErrorMsgLogField, err.Error()))
		return &Report{Failed: ids}, err
	}
	metrics.DispatchMessages.WithLabelValues(metrics.OutcomeSuccess).Add(float64(len(ids)))
	logger.Info("dispatch delivered",
		slog.String(dispatchLogField, dispatchID),
		slog.Int(countLogField, len(ids)),
	)
	return &Report{DispatchID: dispatchID, Delivered: ids}, nil
}
