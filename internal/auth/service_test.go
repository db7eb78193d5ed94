package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creatordash/authsim/internal/auth"
	"github.com/creatordash/authsim/internal/email"
	"github.com/creatordash/authsim/internal/errorz"
	"github.com/creatordash/authsim/internal/errorz/testerr"
	"github.com/creatordash/authsim/internal/kv"
)

func Test_Service_Register(t *testing.T) {
	t.Run("ok, register user", func(t *testing.T) {
		st := newServiceTest(t)

		user, err := st.svc.Register(context.Background(), "  Alice@Example.COM ", "reallyStrongPassword1")
		if err != nil {
			t.Fatalf("failed to register user: %v", err)
		}

		if user.Email != "alice@example.com" {
			t.Errorf("got email %q, want %q", user.Email, "alice@example.com")
		}

		if !user.CreatedAt.Equal(st.now) || !user.UpdatedAt.Equal(st.now) {
			t.Errorf("got timestamps %v/%v, want %v", user.CreatedAt, user.UpdatedAt, st.now)
		}

		// Registering also logs the user in.
		current := st.currentUser()
		if current == nil || current.ID != user.ID {
			t.Fatalf("got current user %+v, want %+v", current, user)
		}
	})

	t.Run("ok, session lands in durable scope by default", func(t *testing.T) {
		st := newServiceTest(t)
		user := st.register("alice@example.com", "reallyStrongPassword1")

		// A restart drops the ephemeral scope but keeps the durable one.
		st2 := st.restart()

		current := st2.currentUser()
		if current == nil || current.ID != user.ID {
			t.Fatalf("got current user %+v after restart, want %+v", current, user)
		}
	})

	t.Run("fail, duplicate email", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")

		_, err := st.svc.Register(context.Background(), "ALICE@example.com", "otherPassword1")
		assertKind(t, err, errorz.KindConflict, "An account with this email already exists")
	})

	failValidation := map[string]struct {
		email    string
		password string
		wantMsg  string
	}{
		"invalid email": {
			email:    "not-an-email",
			password: "reallyStrongPassword1",
			wantMsg:  "Please enter a valid email address",
		},
		"empty email": {
			email:    "",
			password: "reallyStrongPassword1",
			wantMsg:  "Please enter a valid email address",
		},
		"dotless domain": {
			email:    "a@b",
			password: "reallyStrongPassword1",
			wantMsg:  "Please enter a valid email address",
		},
		"short password": {
			email:    "alice@example.com",
			password: "1234567",
			wantMsg:  "Password must be at least 8 characters",
		},
		"long password": {
			email:    "alice@example.com",
			password: stringOfLen(73),
			wantMsg:  "Password must be at most 72 characters",
		},
	}

	for name, tc := range failValidation {
		t.Run("fail, "+name, func(t *testing.T) {
			st := newServiceTest(t)

			_, err := st.svc.Register(context.Background(), tc.email, tc.password)
			assertKind(t, err, errorz.KindValidation, tc.wantMsg)
		})
	}
}

func Test_Service_Login(t *testing.T) {
	t.Run("ok, correct credentials", func(t *testing.T) {
		st := newServiceTest(t)
		user := st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		got, err := st.svc.Login(context.Background(), "alice@example.com", "reallyStrongPassword1")
		if err != nil {
			t.Fatalf("failed to login: %v", err)
		}

		if got.ID != user.ID {
			t.Errorf("got user ID %v, want %v", got.ID, user.ID)
		}
	})

	t.Run("ok, email is case-insensitive", func(t *testing.T) {
		st := newServiceTest(t)
		user := st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		got, err := st.svc.Login(context.Background(), " ALICE@Example.com ", "reallyStrongPassword1")
		if err != nil {
			t.Fatalf("failed to login: %v", err)
		}

		if got.ID != user.ID {
			t.Errorf("got user ID %v, want %v", got.ID, user.ID)
		}
	})

	t.Run("fail, wrong password and unknown email are indistinguishable", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		_, errWrongPwd := st.svc.Login(context.Background(), "alice@example.com", "wrongPassword1")
		assertKind(t, errWrongPwd, errorz.KindAuth, "Invalid email or password")

		_, errUnknown := st.svc.Login(context.Background(), "nobody@example.com", "wrongPassword1")
		assertKind(t, errUnknown, errorz.KindAuth, "Invalid email or password")

		if errWrongPwd.Error() != errUnknown.Error() {
			t.Errorf("messages differ: %q vs %q", errWrongPwd, errUnknown)
		}
	})

	t.Run("ok, session-only login does not survive a restart", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		st.svc.SetRememberMe(false)
		st.login("alice@example.com", "reallyStrongPassword1")

		if st.currentUser() == nil {
			t.Fatal("expected a current user before restart")
		}

		st2 := st.restart()
		if got := st2.currentUser(); got != nil {
			t.Fatalf("got current user %+v after restart, want nil", got)
		}
	})

	t.Run("ok, session-only login clears the durable slot", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")

		// The registration session lives in the durable scope. A
		// session-only login must clear it, otherwise a restart would
		// resurrect the older session.
		st.svc.SetRememberMe(false)
		st.login("alice@example.com", "reallyStrongPassword1")

		st2 := st.restart()
		if got := st2.currentUser(); got != nil {
			t.Fatalf("got current user %+v after restart, want nil", got)
		}
	})
}

func Test_Service_Logout(t *testing.T) {
	t.Run("ok, clears the session", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")

		st.logout()

		if got := st.currentUser(); got != nil {
			t.Fatalf("got current user %+v after logout, want nil", got)
		}
	})

	t.Run("ok, clears the pending reset marker", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		code := st.sendCode("alice@example.com")
		st.verifyCode("alice@example.com", code)
		st.logout()

		err := st.svc.ChangePassword(context.Background(), "", "newPassword1")
		assertKind(t, err, errorz.KindAuth, "Please verify your code before changing your password")
	})
}

func Test_Service_CurrentUser(t *testing.T) {
	t.Run("ok, nil when not logged in", func(t *testing.T) {
		st := newServiceTest(t)

		got, err := st.svc.CurrentUser(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Fatalf("got %+v, want nil", got)
		}
	})

	t.Run("ok, nil when the session points at a removed user", func(t *testing.T) {
		st := newServiceTest(t)
		user := st.register("alice@example.com", "reallyStrongPassword1")

		// Remove the record behind the session's back. The map name is
		// part of the persisted storage layout.
		err := st.durable.Delete(context.Background(), "auth_users_v1", string(user.Email))
		if err != nil {
			t.Fatalf("failed to delete user record: %v", err)
		}

		got, err := st.svc.CurrentUser(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Fatalf("got %+v, want nil", got)
		}
	})
}

func Test_Service_ChangePassword(t *testing.T) {
	t.Run("ok, logged in", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")

		st.advance(time.Minute)

		err := st.svc.ChangePassword(context.Background(), "reallyStrongPassword1", "newPassword1")
		if err != nil {
			t.Fatalf("failed to change password: %v", err)
		}

		st.logout()

		// New password works, the old one doesn't.
		user := st.login("alice@example.com", "newPassword1")
		if !user.UpdatedAt.Equal(st.now) {
			t.Errorf("got UpdatedAt %v, want %v", user.UpdatedAt, st.now)
		}

		_, err = st.svc.Login(context.Background(), "alice@example.com", "reallyStrongPassword1")
		assertKind(t, err, errorz.KindAuth, "Invalid email or password")
	})

	t.Run("fail, wrong old password", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")

		err := st.svc.ChangePassword(context.Background(), "notTheOldPassword", "newPassword1")
		assertKind(t, err, errorz.KindAuth, "Old password is incorrect")
	})

	t.Run("fail, new password too short", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")

		err := st.svc.ChangePassword(context.Background(), "reallyStrongPassword1", "1234567")
		assertKind(t, err, errorz.KindValidation, "New password must be at least 8 characters")
	})

	t.Run("fail, no session and no verified code", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		err := st.svc.ChangePassword(context.Background(), "", "newPassword1")
		assertKind(t, err, errorz.KindAuth, "Please verify your code before changing your password")
	})
}

func Test_Service_PasswordReset(t *testing.T) {
	t.Run("ok, full reset flow", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		code := st.sendCode("alice@example.com")
		if len(code) != 6 {
			t.Fatalf("got code %q, want 6 digits", code)
		}

		// The notifier saw the same code.
		issued := st.notifier.Codes()
		if len(issued) != 1 || issued[0].Code != code || issued[0].Recipient != "alice@example.com" {
			t.Fatalf("got issued codes %+v, want [{alice@example.com %s}]", issued, code)
		}

		st.verifyCode("alice@example.com", code)

		err := st.svc.ChangePassword(context.Background(), "", "newPassword1")
		if err != nil {
			t.Fatalf("failed to change password: %v", err)
		}

		st.login("alice@example.com", "newPassword1")
	})

	t.Run("ok, the marker authorizes exactly one change", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		code := st.sendCode("alice@example.com")
		st.verifyCode("alice@example.com", code)

		if err := st.svc.ChangePassword(context.Background(), "", "newPassword1"); err != nil {
			t.Fatalf("failed to change password: %v", err)
		}

		err := st.svc.ChangePassword(context.Background(), "", "anotherPassword1")
		assertKind(t, err, errorz.KindAuth, "Please verify your code before changing your password")
	})

	t.Run("ok, submitted code is trimmed", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		code := st.sendCode("alice@example.com")
		st.verifyCode("ALICE@example.com", "  "+code+"\n")
	})

	t.Run("ok, wrong code leaves the original valid", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		code := st.sendCode("alice@example.com")

		err := st.svc.VerifyCode(context.Background(), "alice@example.com", "000000")
		assertKind(t, err, errorz.KindAuth, "Invalid verification code")

		// Retry with the right code still works.
		st.verifyCode("alice@example.com", code)
	})

	t.Run("ok, a new code supersedes the old one", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		first := st.sendCode("alice@example.com")
		second := st.sendCode("alice@example.com")

		if first != second {
			err := st.svc.VerifyCode(context.Background(), "alice@example.com", first)
			assertKind(t, err, errorz.KindAuth, "Invalid verification code")
		}

		st.verifyCode("alice@example.com", second)
	})

	t.Run("ok, a code cannot be replayed", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		code := st.sendCode("alice@example.com")
		st.verifyCode("alice@example.com", code)

		err := st.svc.VerifyCode(context.Background(), "alice@example.com", code)
		assertKind(t, err, errorz.KindNotFound, "No verification code found. Please request a new one.")
	})

	t.Run("fail, no outstanding code", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		err := st.svc.VerifyCode(context.Background(), "alice@example.com", "123456")
		assertKind(t, err, errorz.KindNotFound, "No verification code found. Please request a new one.")
	})

	t.Run("fail, expired code", func(t *testing.T) {
		st := newServiceTest(t)
		st.register("alice@example.com", "reallyStrongPassword1")
		st.logout()

		code := st.sendCode("alice@example.com")

		st.advance(10*time.Minute + time.Second)

		err := st.svc.VerifyCode(context.Background(), "alice@example.com", code)
		assertKind(t, err, errorz.KindExpired, "Verification code expired. Please request a new one.")
	})

	t.Run("fail, failed delivery leaves no code behind", func(t *testing.T) {
		notifier := &brokenNotifier{err: errors.New("delivery is down")}

		svc, err := auth.NewService(kv.NewMemory(), kv.NewMemory(), notifier, auth.ServiceConfig{})
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		ctx := context.Background()
		if _, err := svc.Register(ctx, "alice@example.com", "reallyStrongPassword1"); err != nil {
			t.Fatalf("failed to register user: %v", err)
		}

		if _, err := svc.SendCode(ctx, "alice@example.com"); !errors.Is(err, notifier.err) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, notifier.err)
		}

		// Nothing was stored, so there is nothing to verify.
		err = svc.VerifyCode(ctx, "alice@example.com", "123456")
		assertKind(t, err, errorz.KindNotFound, "No verification code found. Please request a new one.")
	})

	t.Run("fail, code request for unknown account reveals absence", func(t *testing.T) {
		st := newServiceTest(t)

		_, err := st.svc.SendCode(context.Background(), "nobody@example.com")
		assertKind(t, err, errorz.KindAuth, "No account found with this email")
	})

	t.Run("fail, code request with invalid email", func(t *testing.T) {
		st := newServiceTest(t)

		_, err := st.svc.SendCode(context.Background(), "not-an-email")
		assertKind(t, err, errorz.KindValidation, "Please enter a valid email address")
	})
}

func Test_Service_RoundTrip(t *testing.T) {
	st := newServiceTest(t)

	registered := st.register("alice@example.com", "reallyStrongPassword1")
	st.logout()

	loggedIn := st.login("alice@example.com", "reallyStrongPassword1")
	if loggedIn.ID != registered.ID {
		t.Errorf("got user ID %v after re-login, want %v", loggedIn.ID, registered.ID)
	}
}

func Test_Service_StoreFailures(t *testing.T) {
	// Expected number of durable store calls per operation, with
	// remember-me enabled.
	ops := map[string]struct {
		calls int
		run   func(st *serviceTest) error
	}{
		"register": {
			calls: 3,
			run: func(st *serviceTest) error {
				_, err := st.svc.Register(context.Background(), "bob@example.com", "reallyStrongPassword1")
				return err
			},
		},
		"login": {
			calls: 2,
			run: func(st *serviceTest) error {
				_, err := st.svc.Login(context.Background(), "alice@example.com", "reallyStrongPassword1")
				return err
			},
		},
		"logout": {
			calls: 1,
			run: func(st *serviceTest) error {
				return st.svc.Logout(context.Background())
			},
		},
		"current user": {
			calls: 2,
			run: func(st *serviceTest) error {
				_, err := st.svc.CurrentUser(context.Background())
				return err
			},
		},
		"change password": {
			calls: 4,
			run: func(st *serviceTest) error {
				return st.svc.ChangePassword(context.Background(), "reallyStrongPassword1", "newPassword1")
			},
		},
		"send code": {
			calls: 2,
			run: func(st *serviceTest) error {
				_, err := st.svc.SendCode(context.Background(), "alice@example.com")
				return err
			},
		},
	}

	for name, op := range ops {
		for _, dep := range testerr.NewFailingDeps(testerr.Err, op.calls) {
			t.Run("fail, store fails during "+name, func(t *testing.T) {
				st := newServiceTest(t)
				st.register("alice@example.com", "reallyStrongPassword1")

				dep := dep
				st.durable.dep = &dep

				err := op.run(st)
				if !errors.Is(err, testerr.Err) {
					t.Fatalf("got %v, want %v (via errors.Is)", err, testerr.Err)
				}
			})
		}
	}

	for _, dep := range testerr.NewFailingDeps(testerr.Err, 2) {
		t.Run("fail, store fails during verify code", func(t *testing.T) {
			st := newServiceTest(t)
			st.register("alice@example.com", "reallyStrongPassword1")
			st.logout()
			code := st.sendCode("alice@example.com")

			dep := dep
			st.durable.dep = &dep

			err := st.svc.VerifyCode(context.Background(), "alice@example.com", code)
			if !errors.Is(err, testerr.Err) {
				t.Fatalf("got %v, want %v (via errors.Is)", err, testerr.Err)
			}
		})
	}
}

// serviceTest wires a Service to in-memory scopes, a collecting notifier
// and a fake clock.
type serviceTest struct {
	t         *testing.T
	svc       *auth.Service
	durable   *flakyStore
	ephemeral *kv.Memory
	notifier  *auth.MemoryNotifier
	now       time.Time
}

func newServiceTest(t *testing.T) *serviceTest {
	return newServiceTestWith(t, kv.NewMemory())
}

func newServiceTestWith(t *testing.T, durable kv.Store) *serviceTest {
	t.Helper()

	st := &serviceTest{
		t:         t,
		durable:   &flakyStore{inner: durable},
		ephemeral: kv.NewMemory(),
		notifier:  auth.NewMemoryNotifier(),
		now:       time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	svc, err := auth.NewService(st.durable, st.ephemeral, st.notifier, auth.ServiceConfig{})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	svc.NowFunc = func() time.Time {
		return st.now
	}

	st.svc = svc
	return st
}

// restart simulates closing and reopening the app: the durable scope is
// shared, the ephemeral scope starts empty.
func (st *serviceTest) restart() *serviceTest {
	st2 := newServiceTestWith(st.t, st.durable.inner)
	st2.now = st.now
	return st2
}

func (st *serviceTest) advance(d time.Duration) {
	st.now = st.now.Add(d)
}

func (st *serviceTest) register(email, password string) auth.User {
	st.t.Helper()

	user, err := st.svc.Register(context.Background(), email, password)
	if err != nil {
		st.t.Fatalf("failed to register user: %v", err)
	}
	return user
}

func (st *serviceTest) login(email, password string) auth.User {
	st.t.Helper()

	user, err := st.svc.Login(context.Background(), email, password)
	if err != nil {
		st.t.Fatalf("failed to login: %v", err)
	}
	return user
}

func (st *serviceTest) logout() {
	st.t.Helper()

	if err := st.svc.Logout(context.Background()); err != nil {
		st.t.Fatalf("failed to logout: %v", err)
	}
}

func (st *serviceTest) currentUser() *auth.User {
	st.t.Helper()

	user, err := st.svc.CurrentUser(context.Background())
	if err != nil {
		st.t.Fatalf("failed to get current user: %v", err)
	}
	return user
}

func (st *serviceTest) sendCode(email string) string {
	st.t.Helper()

	code, err := st.svc.SendCode(context.Background(), email)
	if err != nil {
		st.t.Fatalf("failed to send code: %v", err)
	}
	return code
}

func (st *serviceTest) verifyCode(email, code string) {
	st.t.Helper()

	if err := st.svc.VerifyCode(context.Background(), email, code); err != nil {
		st.t.Fatalf("failed to verify code: %v", err)
	}
}

func assertKind(t *testing.T, err error, kind errorz.Kind, msg string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected error with kind %q, got nil", kind)
	}

	if !errorz.IsKind(err, kind) {
		t.Fatalf("got kind %q (%v), want %q", errorz.KindOf(err), err, kind)
	}

	if err.Error() != msg {
		t.Errorf("got message %q, want %q", err, msg)
	}
}

// brokenNotifier fails every delivery with a fixed error.
type brokenNotifier struct {
	err error
}

func (n *brokenNotifier) CodeIssued(context.Context, email.Address, string) error {
	return n.err
}

// flakyStore wraps a kv.Store and fails calls according to a testerr
// failing dependency. A nil dep passes everything through.
type flakyStore struct {
	inner kv.Store
	dep   *testerr.FailingDep
}

type getResult struct {
	value []byte
	ok    bool
}

func (f *flakyStore) Get(ctx context.Context, name, key string) ([]byte, bool, error) {
	if f.dep == nil {
		return f.inner.Get(ctx, name, key)
	}

	res, err := testerr.MaybeFail(f.dep, func() (getResult, error) {
		v, ok, err := f.inner.Get(ctx, name, key)
		return getResult{value: v, ok: ok}, err
	})
	return res.value, res.ok, err
}

func (f *flakyStore) Set(ctx context.Context, name, key string, value []byte) error {
	if f.dep == nil {
		return f.inner.Set(ctx, name, key, value)
	}

	return testerr.MaybeFailErrFunc(f.dep, func() error {
		return f.inner.Set(ctx, name, key, value)
	})
}

func (f *flakyStore) Delete(ctx context.Context, name, key string) error {
	if f.dep == nil {
		return f.inner.Delete(ctx, name, key)
	}

	return testerr.MaybeFailErrFunc(f.dep, func() error {
		return f.inner.Delete(ctx, name, key)
	})
}

func (f *flakyStore) All(ctx context.Context, name string) (map[string][]byte, error) {
	if f.dep == nil {
		return f.inner.All(ctx, name)
	}

	return testerr.MaybeFail(f.dep, func() (map[string][]byte, error) {
		return f.inner.All(ctx, name)
	})
}
