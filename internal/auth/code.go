package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/creatordash/authsim/internal/email"
)

const (
	codeDigits = 6

	// DefaultCodeTTL is how long a verification code stays valid.
	DefaultCodeTTL = 10 * time.Minute
)

// verificationCode is an outstanding password reset code. At most one
// exists per email, issuing a new code overwrites the previous one.
type verificationCode struct {
	Email     email.Address `json:"email"`
	Code      string        `json:"code"`
	CreatedAt time.Time     `json:"createdAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// generateCode creates a uniformly random code of codeDigits decimal
// digits. The first digit is never zero, so a code keeps its length even
// when something downstream treats it as a number.
func generateCode() (string, error) {
	// [100000, 999999] for 6 digits.
	min := int64(1)
	for i := 1; i < codeDigits; i++ {
		min *= 10
	}

	n, err := rand.Int(rand.Reader, big.NewInt(min*9))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	return fmt.Sprintf("%d", min+n.Int64()), nil
}
