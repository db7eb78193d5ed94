// Package auth simulates a backend identity provider.
//
// The service owns user records, the current session, outstanding
// verification codes and the pending reset marker, all persisted through
// two kv.Store scopes: a durable one that survives restarts and an
// ephemeral one that does not. There is no real backend behind it, which
// is the point: consumers get the full register/login/reset contract of
// an identity provider without any network or server dependency.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creatordash/authsim/internal/email"
	"github.com/creatordash/authsim/internal/errorz"
	"github.com/creatordash/authsim/internal/kv"
)

// The messages below are shown to end users verbatim, they are part of
// the service contract.
var (
	errInvalidEmail        = errorz.New(errorz.KindValidation, "Please enter a valid email address")
	errPasswordTooShort    = errorz.New(errorz.KindValidation, "Password must be at least 8 characters")
	errPasswordTooLong     = errorz.New(errorz.KindValidation, "Password must be at most 72 characters")
	errNewPasswordTooShort = errorz.New(errorz.KindValidation, "New password must be at least 8 characters")
	errNewPasswordTooLong  = errorz.New(errorz.KindValidation, "New password must be at most 72 characters")
	errDuplicateAccount    = errorz.New(errorz.KindConflict, "An account with this email already exists")
	errInvalidCredentials  = errorz.New(errorz.KindAuth, "Invalid email or password")
	errOldPasswordWrong    = errorz.New(errorz.KindAuth, "Old password is incorrect")
	errVerifyFirst         = errorz.New(errorz.KindAuth, "Please verify your code before changing your password")
	errUserGone            = errorz.New(errorz.KindNotFound, "User not found")
	errAccountGone         = errorz.New(errorz.KindNotFound, "Account not found")
	errNoAccount           = errorz.New(errorz.KindAuth, "No account found with this email")
	errNoCode              = errorz.New(errorz.KindNotFound, "No verification code found. Please request a new one.")
	errCodeExpired         = errorz.New(errorz.KindExpired, "Verification code expired. Please request a new one.")
	errInvalidCode         = errorz.New(errorz.KindAuth, "Invalid verification code")
)

// Latency simulates the round trip to a remote backend. Operations sleep
// for a uniformly random duration in [Min, Max] before doing any work.
// The zero value disables the simulation, which is what tests want.
type Latency struct {
	Min time.Duration
	Max time.Duration
}

// DefaultLatency is the latency consumers get unless they override it.
var DefaultLatency = Latency{
	Min: 450 * time.Millisecond,
	Max: 900 * time.Millisecond,
}

// ServiceConfig is the configuration for the Service.
type ServiceConfig struct {
	// CodeTTL is the duration a verification code is valid.
	// Zero means DefaultCodeTTL.
	CodeTTL time.Duration
	// Latency is the simulated backend latency.
	Latency Latency
}

// Service is the type that provides the main rules for authentication.
//
// A single Service serializes its read-modify-write cycles internally,
// so it is safe for concurrent use. Multiple processes sharing one
// durable store are not coordinated, concurrent writers can clobber
// each other the same way two browser tabs could.
type Service struct {
	durable  kv.Store
	sessions *sessionStore
	notifier CodeNotifier
	cfg      ServiceConfig

	mu       sync.Mutex
	remember bool

	// comparisonHash is used to compare passwords when no user was found.
	comparisonHash BcryptHash

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// NewService creates a Service on top of the two storage scopes.
func NewService(durable, ephemeral kv.Store, notifier CodeNotifier, cfg ServiceConfig) (*Service, error) {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	hash, err := hashBytes([]byte(code))
	if err != nil {
		return nil, err
	}

	svc := &Service{
		durable: durable,
		sessions: &sessionStore{
			durable:   durable,
			ephemeral: ephemeral,
		},
		notifier:       notifier,
		cfg:            cfg,
		remember:       true,
		comparisonHash: hash,
		NowFunc:        time.Now,
	}

	return svc, nil
}

// SetRememberMe selects which scope future sessions are written to:
// durable when remember is true, ephemeral otherwise.
func (s *Service) SetRememberMe(remember bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remember = remember
}

// Register creates a new user with the provided credentials and logs
// them in. It returns the public view of the new user.
func (s *Service) Register(ctx context.Context, rawEmail, rawPassword string) (User, error) {
	if err := s.delay(ctx); err != nil {
		return User{}, err
	}

	addr, err := email.ParseAddress(rawEmail)
	if err != nil {
		return User{}, errInvalidEmail
	}

	pwd, err := ParsePassword(rawPassword)
	if err != nil {
		return User{}, mapPasswordErr(err, errPasswordTooShort, errPasswordTooLong)
	}

	hash, err := pwd.Hash()
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists, err := s.userByEmail(ctx, addr)
	if err != nil {
		return User{}, err
	}
	if exists {
		return User{}, errDuplicateAccount
	}

	now := s.NowFunc().UTC()
	rec := userRecord{
		ID:           uuid.New(),
		Email:        addr,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.putUser(ctx, rec); err != nil {
		return User{}, err
	}

	if err := s.sessions.write(ctx, Session{UserID: rec.ID, IssuedAt: now}, s.remember); err != nil {
		return User{}, err
	}

	return rec.public(), nil
}

// Login checks the provided credentials and establishes a session.
//
// Unknown email and wrong password fail with the same message so the
// response does not reveal whether an account exists.
func (s *Service) Login(ctx context.Context, rawEmail, rawPassword string) (User, error) {
	if err := s.delay(ctx); err != nil {
		return User{}, err
	}

	addr := email.Normalize(rawEmail)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists, err := s.userByEmail(ctx, addr)
	if err != nil {
		return User{}, err
	}
	if !exists {
		// Even if no user is found we compare to a hash to prevent
		// timing differences that could result in user enumeration
		// attacks.
		_ = matchHash(s.comparisonHash, []byte(rawPassword))
		return User{}, errInvalidCredentials
	}

	if !matchHash(rec.PasswordHash, []byte(rawPassword)) {
		return User{}, errInvalidCredentials
	}

	now := s.NowFunc().UTC()
	if err := s.sessions.write(ctx, Session{UserID: rec.ID, IssuedAt: now}, s.remember); err != nil {
		return User{}, err
	}

	return rec.public(), nil
}

// Logout clears the session from both scopes and drops any pending
// reset marker.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.delay(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sessions.clear(ctx); err != nil {
		return err
	}

	return s.sessions.clearResetMarker(ctx)
}

// CurrentUser resolves the active session to its user. It returns
// nil when nobody is logged in, that is not an error.
func (s *Service) CurrentUser(ctx context.Context) (*User, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.currentUser(ctx)
}

func (s *Service) currentUser(ctx context.Context) (*User, error) {
	sess, err := s.sessions.read(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	rec, exists, err := s.userByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	u := rec.public()
	return &u, nil
}

// ChangePassword sets a new password for the current user.
//
// It serves two flows with the same contract:
// - With an active session the old password must match.
// - Without a session a pending reset marker (set by VerifyCode) must
//   exist, and it is consumed: the marker authorizes exactly one change.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	if err := s.delay(ctx); err != nil {
		return err
	}

	pwd, err := ParsePassword(newPassword)
	if err != nil {
		return mapPasswordErr(err, errNewPasswordTooShort, errNewPasswordTooLong)
	}

	hash, err := pwd.Hash()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.currentUser(ctx)
	if err != nil {
		return err
	}

	if current != nil {
		rec, exists, err := s.userByEmail(ctx, current.Email)
		if err != nil {
			return err
		}
		if !exists {
			return errUserGone
		}

		if !matchHash(rec.PasswordHash, []byte(oldPassword)) {
			return errOldPasswordWrong
		}

		rec.PasswordHash = hash
		rec.UpdatedAt = s.NowFunc().UTC()
		return s.putUser(ctx, rec)
	}

	addr, ok, err := s.sessions.resetMarker(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errVerifyFirst
	}

	rec, exists, err := s.userByEmail(ctx, addr)
	if err != nil {
		return err
	}
	if !exists {
		return errAccountGone
	}

	rec.PasswordHash = hash
	rec.UpdatedAt = s.NowFunc().UTC()
	if err := s.putUser(ctx, rec); err != nil {
		return err
	}

	return s.sessions.clearResetMarker(ctx)
}

// SendCode issues a verification code for a password reset and returns
// it to the caller, simulating dev-mode delivery. Any previously issued
// code for the same email is overwritten.
//
// Unlike Login this reveals whether an account exists, so the form can
// tell the user to check the address they typed.
func (s *Service) SendCode(ctx context.Context, rawEmail string) (string, error) {
	if err := s.delay(ctx); err != nil {
		return "", err
	}

	addr, err := email.ParseAddress(rawEmail)
	if err != nil {
		return "", errInvalidEmail
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists, err := s.userByEmail(ctx, addr)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errNoAccount
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}

	now := s.NowFunc().UTC()
	vc := verificationCode{
		Email:     addr,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
	}

	b, err := json.Marshal(vc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal verification code: %w", err)
	}

	// Notify before persisting: if delivery fails the caller gets the
	// error without an outstanding code they never heard about.
	if err := s.notifier.CodeIssued(ctx, addr, code); err != nil {
		return "", err
	}

	if err := s.durable.Set(ctx, codesMap, string(addr), b); err != nil {
		return "", err
	}

	return code, nil
}

// VerifyCode checks a submitted verification code. On success the code
// is consumed and the pending reset marker is set, authorizing a single
// ChangePassword without the old password. A failed attempt leaves the
// code in place for a retry.
func (s *Service) VerifyCode(ctx context.Context, rawEmail, rawCode string) error {
	if err := s.delay(ctx); err != nil {
		return err
	}

	addr := email.Normalize(rawEmail)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok, err := s.durable.Get(ctx, codesMap, string(addr))
	if err != nil {
		return err
	}
	if !ok {
		return errNoCode
	}

	var vc verificationCode
	if err := json.Unmarshal(b, &vc); err != nil {
		// Treat a corrupt entry like a missing one, the caller can
		// request a fresh code either way.
		return errNoCode
	}

	if s.NowFunc().UTC().After(vc.ExpiresAt) {
		return errCodeExpired
	}

	if strings.TrimSpace(rawCode) != vc.Code {
		return errInvalidCode
	}

	if err := s.sessions.setResetMarker(ctx, addr); err != nil {
		return err
	}

	return s.durable.Delete(ctx, codesMap, string(addr))
}

func (s *Service) userByEmail(ctx context.Context, addr email.Address) (userRecord, bool, error) {
	b, ok, err := s.durable.Get(ctx, usersMap, string(addr))
	if err != nil || !ok {
		return userRecord{}, false, err
	}

	var rec userRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return userRecord{}, false, fmt.Errorf("failed to unmarshal user record: %w", err)
	}

	return rec, true, nil
}

func (s *Service) userByID(ctx context.Context, id uuid.UUID) (userRecord, bool, error) {
	all, err := s.durable.All(ctx, usersMap)
	if err != nil {
		return userRecord{}, false, err
	}

	for _, b := range all {
		var rec userRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return userRecord{}, false, fmt.Errorf("failed to unmarshal user record: %w", err)
		}

		if rec.ID == id {
			return rec, true, nil
		}
	}

	return userRecord{}, false, nil
}

func (s *Service) putUser(ctx context.Context, rec userRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal user record: %w", err)
	}

	return s.durable.Set(ctx, usersMap, string(rec.Email), b)
}

// delay sleeps for a random duration within the configured latency
// window, or returns early when ctx is cancelled.
func (s *Service) delay(ctx context.Context) error {
	if s.cfg.Latency.Max <= 0 {
		return nil
	}

	d := s.cfg.Latency.Min
	if span := s.cfg.Latency.Max - s.cfg.Latency.Min; span > 0 {
		d += time.Duration(rand.Int63n(int64(span) + 1))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func mapPasswordErr(err error, tooShort, tooLong *errorz.Error) error {
	if errors.Is(err, ErrPasswordTooLong) {
		return tooLong
	}
	return tooShort
}
