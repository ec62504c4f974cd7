// Package auth handles user accounts, session tokens, and the Google
// OAuth flow that links a user's calendar.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNoUser reports that no user matches the given email or ID.
	ErrNoUser = errors.New("user not found")

	// ErrEmailTaken reports a registration attempt with an email that
	// already has an account.
	ErrEmailTaken = errors.New("email already registered")
)

// User is an account row. The password hash never leaves the store.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// GoogleToken is a user's stored Google OAuth credential.
type GoogleToken struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// UserStore persists accounts and linked Google tokens in SQLite.
type UserStore struct {
	db *sql.DB
}

// NewUserStore opens (or creates) the user database at dbPath and
// applies the schema.
func NewUserStore(dbPath string) (*UserStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open user database: %w", err)
	}

	s := &UserStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate user database: %w", err)
	}
	return s, nil
}

func (s *UserStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS google_tokens (
		user_id       TEXT NOT NULL PRIMARY KEY,
		access_token  TEXT NOT NULL,
		refresh_token TEXT,
		expiry        TEXT,
		updated_at    TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *UserStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new account. The caller supplies the already
// hashed password.
func (s *UserStore) CreateUser(email, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	_, err := s.db.Exec(`
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, id, email, passwordHash, now.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &User{ID: id, Email: email, CreatedAt: now}, nil
}

// GetByEmail returns the user and their password hash.
func (s *UserStore) GetByEmail(email string) (*User, string, error) {
	var u User
	var hash, createdAt string

	err := s.db.QueryRow(`
		SELECT id, email, password_hash, created_at FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &hash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, "", ErrNoUser
	}
	if err != nil {
		return nil, "", fmt.Errorf("get user by email: %w", err)
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &u, hash, nil
}

// GetByID returns the user with the given ID.
func (s *UserStore) GetByID(id string) (*User, error) {
	var u User
	var createdAt string

	err := s.db.QueryRow(`
		SELECT id, email, created_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Email, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoUser
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &u, nil
}

// SetGoogleToken writes or replaces a user's Google credential.
func (s *UserStore) SetGoogleToken(userID string, tok GoogleToken) error {
	var expiry string
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.Exec(`
		INSERT INTO google_tokens (user_id, access_token, refresh_token, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token != '' THEN excluded.refresh_token ELSE google_tokens.refresh_token END,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at
	`, userID, tok.AccessToken, tok.RefreshToken, expiry, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set google token: %w", err)
	}
	return nil
}

// GoogleToken returns the user's stored Google credential, or nil if
// the account has no calendar linked.
func (s *UserStore) GoogleToken(userID string) (*GoogleToken, error) {
	var tok GoogleToken
	var refresh, expiry sql.NullString

	err := s.db.QueryRow(`
		SELECT access_token, refresh_token, expiry FROM google_tokens WHERE user_id = ?
	`, userID).Scan(&tok.AccessToken, &refresh, &expiry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get google token: %w", err)
	}

	if refresh.Valid {
		tok.RefreshToken = refresh.String
	}
	if expiry.Valid && expiry.String != "" {
		tok.Expiry, _ = time.Parse(time.RFC3339Nano, expiry.String)
	}
	return &tok, nil
}

// DeleteGoogleToken unlinks the user's calendar.
func (s *UserStore) DeleteGoogleToken(userID string) error {
	_, err := s.db.Exec(`DELETE FROM google_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete google token: %w", err)
	}
	return nil
}
