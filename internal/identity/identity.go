// Package identity implements users, opaque bearer tokens, and the one-shot
// bootstrap flow that creates the first admin (spec.md §4.9 excerpt via §6
// "Authentication"): tokens map to a user identity (user_id, handle, admin).
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/inflatable-cookie/converge/internal/converrors"
)

// User is one registered account.
type User struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Admin  bool   `json:"admin"`
}

// document is the durable on-disk form: users plus the token → user_id map.
// Tokens are stored, not hashed, matching the teacher's opaque-bearer-token
// scheme (gateway/middleware/auth.go's Authenticator, generalised from
// JWT-only to a random-token map per SPEC_FULL.md).
type document struct {
	Users  map[string]User   `json:"users"`  // keyed by user id
	Tokens map[string]string `json:"tokens"` // token -> user id
}

// Store is the in-memory, mutex-guarded identity registry for one server.
// Callers are responsible for durability (see Snapshot/Restore).
type Store struct {
	mu  sync.RWMutex
	doc document
}

// NewStore builds an empty identity store.
func NewStore() *Store {
	return &Store{doc: document{Users: map[string]User{}, Tokens: map[string]string{}}}
}

// GenerateToken returns a fresh 256-bit opaque bearer token, hex-encoded.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Bootstrap creates the first user as an admin and mints their token. It
// fails with a converrors.Conflict error if any user already exists (spec.md §6:
// "one-shot first-admin creation (rejected if any user exists)").
func (s *Store) Bootstrap(handle string) (User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.doc.Users) > 0 {
		return User{}, "", converrors.New(converrors.Conflict, "identity: already bootstrapped")
	}
	user := User{ID: uuid.NewString(), Handle: handle, Admin: true}
	token, err := GenerateToken()
	if err != nil {
		return User{}, "", err
	}
	s.doc.Users[user.ID] = user
	s.doc.Tokens[token] = user.ID
	return user, token, nil
}

// CreateUser registers a new user (an admin if admin is set) and mints their
// token. It fails with a converrors.Conflict error if the handle is taken.
// No HTTP route calls it: POST /repos/:r/members only records a role for a
// handle on one repo and mints no token.
func (s *Store) CreateUser(handle string, admin bool) (User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.doc.Users {
		if u.Handle == handle {
			return User{}, "", converrors.New(converrors.Conflict, "identity: handle %q already taken", handle)
		}
	}
	user := User{ID: uuid.NewString(), Handle: handle, Admin: admin}
	token, err := GenerateToken()
	if err != nil {
		return User{}, "", err
	}
	s.doc.Users[user.ID] = user
	s.doc.Tokens[token] = user.ID
	return user, token, nil
}

// Authenticate resolves a bearer token to its user, if valid.
func (s *Store) Authenticate(token string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.doc.Tokens[token]
	if !ok {
		return User{}, false
	}
	user, ok := s.doc.Users[userID]
	return user, ok
}

// IsBootstrapped reports whether any user has been created yet.
func (s *Store) IsBootstrapped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.doc.Users) > 0
}

// UserByHandle looks up a user by handle, used when granting repo/lane
// membership by handle rather than id.
func (s *Store) UserByHandle(handle string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.doc.Users {
		if u.Handle == handle {
			return u, true
		}
	}
	return User{}, false
}

// Snapshot returns a deep-ish copy of the current document for durable
// serialization by the caller (e.g. internal/server/store's atomic
// repo.json-style writer, pointed at a separate identity.json file).
func (s *Store) Snapshot() (users map[string]User, tokens map[string]string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users = make(map[string]User, len(s.doc.Users))
	for k, v := range s.doc.Users {
		users[k] = v
	}
	tokens = make(map[string]string, len(s.doc.Tokens))
	for k, v := range s.doc.Tokens {
		tokens[k] = v
	}
	return users, tokens
}

// Restore replaces the store's contents from a previously durable
// Snapshot, used at server startup to rebuild identity state.
func (s *Store) Restore(users map[string]User, tokens map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = document{Users: users, Tokens: tokens}
	if s.doc.Users == nil {
		s.doc.Users = map[string]User{}
	}
	if s.doc.Tokens == nil {
		s.doc.Tokens = map[string]string{}
	}
}
