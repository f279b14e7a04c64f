package contact

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/klipach/contactcast/apperr"
	"github.com/lib/pq"
)

const (
	dbDriver = "postgres"

	PostgresSchema = `
CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone_number TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS dispatches (
	id TEXT PRIMARY KEY,
	message TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL,
	dispatch_id TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

	listContactsQuery   = `SELECT id, name, phone_number, email FROM contacts ORDER BY created_at, id`
	insertContactQuery  = `INSERT INTO contacts (id, name, phone_number, email) VALUES ($1, $2, $3, $4)`
	insertLimitedQuery  = `INSERT INTO contacts (id, name, phone_number, email) SELECT $1, $2, $3, $4 WHERE (SELECT count(*) FROM contacts) < $5`
	deleteContactQuery  = `DELETE FROM contacts WHERE id = $1`
	insertDispatchQuery = `INSERT INTO dispatches (id, message) VALUES ($1, $2)`
	insertMessageQuery  = `INSERT INTO messages (id, contact_id, dispatch_id, message) VALUES ($1, $2, $3, $4)`
)

type contactRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	PhoneNumber string `db:"phone_number"`
	Email       string `db:"email"`
}

// PostgresStore is the relational alternative to FirestoreStore, with the
// same collections as tables. Messages keep no foreign key to contacts.
type PostgresStore struct {
	db    *sqlx.DB
	limit int
}

func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return sqlx.ConnectContext(ctx, dbDriver, dsn)
}

func NewPostgresStore(db *sqlx.DB, limit int) *PostgresStore {
	return &PostgresStore{db: db, limit: limit}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return postgresError(apperr.KindWrite, "migrate", err)
	}
	return nil
}

func (s *PostgresStore) ListContacts(ctx context.Context) ([]Contact, error) {
	var rows []contactRow
	if err := s.db.SelectContext(ctx, &rows, listContactsQuery); err != nil {
		return nil, postgresError(apperr.KindRead, "listContacts", err)
	}
	contacts := make([]Contact, 0, len(rows))
	for _, r := range rows {
		contacts = append(contacts, Contact{ID: r.ID, Name: r.Name, PhoneNumber: r.PhoneNumber, Email: r.Email})
	}
	return contacts, nil
}

func (s *PostgresStore) CreateContact(ctx context.Context, c Contact) (string, error) {
	id := uuid.NewString()
	if s.limit <= 0 {
		if _, err := s.db.ExecContext(ctx, insertContactQuery, id, c.Name, c.PhoneNumber, c.Email); err != nil {
			return "", postgresError(apperr.KindWrite, "createContact", err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, insertLimitedQuery, id, c.Name, c.PhoneNumber, c.Email, s.limit)
	if err != nil {
		return "", postgresError(apperr.KindWrite, "createContact", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", postgresError(apperr.KindWrite, "createContact", err)
	}
	if n == 0 {
		return "", apperr.Errorf(apperr.KindLimit, "createContact", "contact limit %d reached", s.limit)
	}
	return id, nil
}

func (s *PostgresStore) DeleteContact(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, deleteContactQuery, id); err != nil {
		return postgresError(apperr.KindWrite, "deleteContact", err)
	}
	return nil
}

func (s *PostgresStore) CreateDispatch(ctx context.Context, message string) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, insertDispatchQuery, id, message); err != nil {
		return "", postgresError(apperr.KindWrite, "createDispatch", err)
	}
	return id, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, contactID string, m Message) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, insertMessageQuery, id, contactID, m.DispatchID, m.Message); err != nil {
		return "", postgresError(apperr.KindWrite, "createMessage", err)
	}
	return id, nil
}

func (s *PostgresStore) CreateDispatchWithMessages(ctx context.Context, message string, contactIDs []string) (string, error) {
	const op = "createDispatchWithMessages"
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", postgresError(apperr.KindWrite, op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	dispatchID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, insertDispatchQuery, dispatchID, message); err != nil {
		return "", postgresError(apperr.KindWrite, op, err)
	}
	for _, contactID := range contactIDs {
		if _, err := tx.ExecContext(ctx, insertMessageQuery, uuid.NewString(), contactID, dispatchID, message); err != nil {
			return "", postgresError(apperr.KindWrite, op, fmt.Errorf("contact %s: %w", contactID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return "", postgresError(apperr.KindWrite, op, err)
	}
	return dispatchID, nil
}

// postgresError keeps the SQLSTATE code; connection class errors (08xxx) and
// timeouts are reported as network failures.
func postgresError(kind apperr.Kind, op string, err error) *apperr.Error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == "08" {
			kind = apperr.KindNetwork
		}
		return apperr.WithCode(kind, op, string(pqErr.Code), err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = apperr.KindNetwork
	}
	return apperr.New(kind, op, err)
}
