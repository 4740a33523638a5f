// Package contacts persists the user's contact list in a local SQLite
// database. Contacts move through pending -> accepted, or to blocked.
package contacts

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the relationship state of a contact.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusBlocked  Status = "blocked"
)

// ErrNotFound is returned when no contact matches the given user id.
var ErrNotFound = errors.New("contacts: not found")

// ErrExists is returned when adding a contact that is already stored.
var ErrExists = errors.New("contacts: already exists")

// Contact is one entry in the contact list. UserID is the peer's signaling
// identity; RequestedBy records which side initiated the request.
type Contact struct {
	ID          string
	UserID      string
	DisplayName string
	Email       string
	PhotoURL    string
	Status      Status
	RequestedBy string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store wraps the contacts database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the contacts database at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrency, busy timeout so writers wait instead of failing.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS contacts (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			email        TEXT NOT NULL DEFAULT '',
			photo_url    TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'pending',
			requested_by TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create contacts table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a new contact in the given status.
func (s *Store) Add(userID, displayName, email, photoURL string, status Status, requestedBy string) (Contact, error) {
	now := time.Now().UTC()
	c := Contact{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: displayName,
		Email:       email,
		PhotoURL:    photoURL,
		Status:      status,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(`
		INSERT INTO contacts (id, user_id, display_name, email, photo_url, status, requested_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.DisplayName, c.Email, c.PhotoURL, string(c.Status), c.RequestedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Contact{}, ErrExists
		}
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return c, nil
}

// Get returns the contact for the given user id.
func (s *Store) Get(userID string) (Contact, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, display_name, email, photo_url, status, requested_by, created_at, updated_at
		FROM contacts WHERE user_id = ?`, userID)
	return scanContact(row)
}

// List returns all contacts, newest first. A non-empty status filters.
func (s *Store) List(status Status) ([]Contact, error) {
	query := `
		SELECT id, user_id, display_name, email, photo_url, status, requested_by, created_at, updated_at
		FROM contacts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateStatus moves a contact to a new status.
func (s *Store) UpdateStatus(userID string, status Status) error {
	res, err := s.db.Exec(`
		UPDATE contacts SET status = ?, updated_at = ? WHERE user_id = ?`,
		string(status), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes a contact.
func (s *Store) Remove(userID string) error {
	res, err := s.db.Exec(`DELETE FROM contacts WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Blocked reports whether the given user is blocked. Unknown users are not.
func (s *Store) Blocked(userID string) bool {
	c, err := s.Get(userID)
	if err != nil {
		return false
	}
	return c.Status == StatusBlocked
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	var status string
	err := row.Scan(&c.ID, &c.UserID, &c.DisplayName, &c.Email, &c.PhotoURL,
		&status, &c.RequestedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("scan contact: %w", err)
	}
	c.Status = Status(status)
	return c, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
