// Command authsim is an interactive shell around the authentication
// simulator. It exists to poke at the service by hand: register, login,
// run through a password reset, restart the process and see which
// sessions survive.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/creatordash/authsim/internal"
	"github.com/creatordash/authsim/internal/auth"
	"github.com/creatordash/authsim/internal/db"
	"github.com/creatordash/authsim/internal/db/migrate"
	"github.com/creatordash/authsim/internal/kv"
	kvsqlite "github.com/creatordash/authsim/internal/kv/sqlite"
	"github.com/creatordash/authsim/migrations"
)

const helpText = `Commands:
  register <email>     create an account and log in
  login <email>        log in
  logout               log out
  whoami               show the current user
  passwd               change the password
  send-code <email>    request a password reset code
  verify-code <email>  submit a reset code
  remember <on|off>    pick the scope future sessions are written to
  help                 show this help
  exit                 quit`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, in io.Reader, out, errOut io.Writer) int {
	logger := slog.New(slog.NewTextHandler(errOut, nil))

	cfg, err := configFromEnv(ctx)
	if err != nil {
		logger.Error("failed to get config from environment", "error", err)
		return 1
	}

	durable, cleanup, err := openDurable(ctx, cfg)
	if err != nil {
		logger.Error("failed to open durable storage", "error", err)
		return 1
	}
	defer cleanup()

	svc, err := auth.NewService(durable, kv.NewMemory(), auth.NewLogNotifier(logger), auth.ServiceConfig{
		CodeTTL: cfg.CodeTTL,
		Latency: auth.Latency{
			Min: cfg.LatencyMin,
			Max: cfg.LatencyMax,
		},
	})
	if err != nil {
		logger.Error("failed to create auth service", "error", err)
		return 1
	}

	logger.Info("authsim ready",
		"dbFile", cfg.DBFile,
		"buildRevision", internal.BuildRevision,
		"buildRevisionTime", internal.BuildRevisionTime,
	)

	sh := &shell{
		svc: svc,
		in:  bufio.NewScanner(in),
		out: out,
	}

	if err := sh.loop(ctx); err != nil {
		logger.Error("shell stopped with error", "error", err)
		return 1
	}

	return 0
}

// openDurable picks the durable scope: a SQLite backed store when a
// database file is configured, an in-memory store otherwise. The
// returned cleanup closes whatever was opened.
func openDurable(ctx context.Context, cfg config) (kv.Store, func(), error) {
	if cfg.DBFile == "" {
		return kv.NewMemory(), func() {}, nil
	}

	sqlDB, err := db.OpenSQLite(cfg.DBFile, true)
	if err != nil {
		return nil, nil, err
	}

	meta := migrate.Metadata{
		AppVersion: internal.BuildRevision,
		Timestamp:  internal.BuildRevisionTime,
	}

	if _, err := migrate.RunFS(ctx, sqlDB, migrations.FS, meta); err != nil {
		sqlDB.Close()
		return nil, nil, err
	}

	return kvsqlite.New(sqlDB), func() { sqlDB.Close() }, nil
}

// shell reads commands line by line and dispatches them to the service.
type shell struct {
	svc *auth.Service
	in  *bufio.Scanner
	out io.Writer
}

func (sh *shell) loop(ctx context.Context) error {
	fmt.Fprintln(sh.out, helpText)

	for {
		fmt.Fprint(sh.out, "> ")

		line, ok := sh.readLine(ctx)
		if !ok {
			return sh.in.Err()
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		cmd, args := fields[0], fields[1:]
		if cmd == "exit" || cmd == "quit" {
			return nil
		}

		if err := sh.dispatch(ctx, cmd, args); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (sh *shell) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(sh.out, helpText)
		return nil
	case "register":
		if len(args) != 1 {
			return errors.New("usage: register <email>")
		}

		pwd, err := sh.readSecret("Password: ")
		if err != nil {
			return err
		}

		user, err := sh.svc.Register(ctx, args[0], pwd)
		if err != nil {
			return err
		}

		fmt.Fprintf(sh.out, "registered and logged in as %s (%s)\n", user.Email, user.ID)
		return nil
	case "login":
		if len(args) != 1 {
			return errors.New("usage: login <email>")
		}

		pwd, err := sh.readSecret("Password: ")
		if err != nil {
			return err
		}

		user, err := sh.svc.Login(ctx, args[0], pwd)
		if err != nil {
			return err
		}

		fmt.Fprintf(sh.out, "logged in as %s (%s)\n", user.Email, user.ID)
		return nil
	case "logout":
		if err := sh.svc.Logout(ctx); err != nil {
			return err
		}

		fmt.Fprintln(sh.out, "logged out")
		return nil
	case "whoami":
		user, err := sh.svc.CurrentUser(ctx)
		if err != nil {
			return err
		}

		if user == nil {
			fmt.Fprintln(sh.out, "not logged in")
			return nil
		}

		fmt.Fprintf(sh.out, "%s (%s), registered %s\n", user.Email, user.ID, user.CreatedAt.Format(time.RFC3339))
		return nil
	case "passwd":
		// With an active session the old password is required, after a
		// verified reset code it is not. Submitting an empty old
		// password covers the second case.
		oldPwd, err := sh.readSecret("Old password (empty after a verified code): ")
		if err != nil {
			return err
		}

		newPwd, err := sh.readSecret("New password: ")
		if err != nil {
			return err
		}

		if err := sh.svc.ChangePassword(ctx, oldPwd, newPwd); err != nil {
			return err
		}

		fmt.Fprintln(sh.out, "password changed")
		return nil
	case "send-code":
		if len(args) != 1 {
			return errors.New("usage: send-code <email>")
		}

		code, err := sh.svc.SendCode(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(sh.out, "code sent: %s\n", code)
		return nil
	case "verify-code":
		if len(args) != 1 {
			return errors.New("usage: verify-code <email>")
		}

		code, err := sh.readSecret("Code: ")
		if err != nil {
			return err
		}

		if err := sh.svc.VerifyCode(ctx, args[0], code); err != nil {
			return err
		}

		fmt.Fprintln(sh.out, "code verified, use passwd with an empty old password")
		return nil
	case "remember":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return errors.New("usage: remember <on|off>")
		}

		sh.svc.SetRememberMe(args[0] == "on")
		fmt.Fprintf(sh.out, "remember me %s\n", args[0])
		return nil
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

// readLine reads the next input line, giving up when ctx is cancelled.
func (sh *shell) readLine(ctx context.Context) (string, bool) {
	lines := make(chan string, 1)
	go func() {
		if sh.in.Scan() {
			lines <- sh.in.Text()
			return
		}
		close(lines)
	}()

	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-lines:
		return line, ok
	}
}

// readSecret prompts for a value without echoing it when stdin is a
// terminal. Anywhere else (tests, pipes) it falls back to a plain line
// read.
func (sh *shell) readSecret(prompt string) (string, error) {
	fmt.Fprint(sh.out, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(sh.out)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(b), nil
	}

	if !sh.in.Scan() {
		if err := sh.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}

	return sh.in.Text(), nil
}
