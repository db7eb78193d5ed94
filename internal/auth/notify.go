package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/creatordash/authsim/internal/email"
)

// CodeNotifier is told about issued verification codes. In a real system
// this is where an email or SMS would go out, here it simulates the
// dev-mode delivery channel.
type CodeNotifier interface {
	CodeIssued(ctx context.Context, to email.Address, code string) error
}

// LogNotifier is a CodeNotifier that logs issued codes instead of
// delivering them. Note that this is not meant for production use as it
// logs the code itself.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{
		logger: logger,
	}
}

// CodeIssued logs the issued code.
func (n *LogNotifier) CodeIssued(_ context.Context, to email.Address, code string) error {
	n.logger.Info("verification code issued",
		"recipient", to,
		"code", code,
	)
	return nil
}

// MemoryNotifier is a CodeNotifier that collects issued codes in memory,
// for tests.
type MemoryNotifier struct {
	mu    sync.Mutex
	codes []IssuedCode
}

// IssuedCode is a single issued code recorded by a MemoryNotifier.
type IssuedCode struct {
	Recipient email.Address
	Code      string
}

// NewMemoryNotifier creates a new MemoryNotifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) CodeIssued(_ context.Context, to email.Address, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.codes = append(n.codes, IssuedCode{
		Recipient: to,
		Code:      code,
	})
	return nil
}

// Codes returns the codes issued so far.
func (n *MemoryNotifier) Codes() []IssuedCode {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]IssuedCode, len(n.codes))
	copy(out, n.codes)
	return out
}
