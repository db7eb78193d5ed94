package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/creatordash/authsim/internal/email"
	"github.com/creatordash/authsim/internal/kv"
)

// Storage layout. Map names are versioned so a future format change can
// migrate old entries.
const (
	usersMap   = "auth_users_v1"
	codesMap   = "auth_codes_v1"
	sessionMap = "auth_session_v1"
	resetMap   = "auth_reset_v1"

	sessionKey = "current"
	resetKey   = "email"
)

// Session points at the user that is currently logged in. It references
// the user by ID only, deleting the user does not delete the session.
type Session struct {
	UserID   uuid.UUID `json:"userId"`
	IssuedAt time.Time `json:"issuedAt"`
}

// sessionStore keeps the current session in exactly one of two storage
// scopes. The durable scope survives restarts ("remember me"), the
// ephemeral scope does not. Writing to one scope always clears the
// other, so the two can never disagree.
//
// The ephemeral scope also holds the pending reset marker: the email
// that completed code verification and is allowed a single password
// change without the old password.
type sessionStore struct {
	durable   kv.Store
	ephemeral kv.Store
}

func (s *sessionStore) write(ctx context.Context, sess Session, remember bool) error {
	target, other := s.ephemeral, s.durable
	if remember {
		target, other = s.durable, s.ephemeral
	}

	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := target.Set(ctx, sessionMap, sessionKey, b); err != nil {
		return err
	}

	return other.Delete(ctx, sessionMap, sessionKey)
}

// read returns the current session, checking the durable scope first.
// A slot that is absent, corrupt or missing a user ID is skipped and
// treated as logged out.
func (s *sessionStore) read(ctx context.Context) (*Session, error) {
	for _, scope := range []kv.Store{s.durable, s.ephemeral} {
		b, ok, err := scope.Get(ctx, sessionMap, sessionKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		var sess Session
		if err := json.Unmarshal(b, &sess); err != nil || sess.UserID == uuid.Nil {
			continue
		}

		return &sess, nil
	}

	return nil, nil
}

// clear removes the session from both scopes unconditionally.
func (s *sessionStore) clear(ctx context.Context) error {
	if err := s.durable.Delete(ctx, sessionMap, sessionKey); err != nil {
		return err
	}
	return s.ephemeral.Delete(ctx, sessionMap, sessionKey)
}

func (s *sessionStore) setResetMarker(ctx context.Context, addr email.Address) error {
	return s.ephemeral.Set(ctx, resetMap, resetKey, []byte(addr))
}

func (s *sessionStore) resetMarker(ctx context.Context) (email.Address, bool, error) {
	b, ok, err := s.ephemeral.Get(ctx, resetMap, resetKey)
	if err != nil || !ok {
		return "", false, err
	}

	return email.Normalize(string(b)), true, nil
}

func (s *sessionStore) clearResetMarker(ctx context.Context) error {
	return s.ephemeral.Delete(ctx, resetMap, resetKey)
}
