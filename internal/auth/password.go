package auth

import (
	"errors"
	"fmt"
)

const (
	minPasswordBytes = 8
	// bcrypt only considers the first 72 bytes of its input and the Go
	// implementation rejects longer inputs outright, so we cap rather
	// than silently truncate.
	maxPasswordBytes = 72

	// SecretMarker is a string we can look for in logs to see if the app
	// is accidentally exposing secrets.
	SecretMarker = "<!SECRET_REDACTED!>"
)

var (
	// ErrPasswordTooShort indicates a password below the minimum length.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong indicates a password above the maximum length.
	ErrPasswordTooLong = errors.New("password too long")
)

// Password is a plaintext password.
//
// It should never be persisted, logged or exposed in any other way. To
// protect ourselves from accidentally doing so, the type implements
// several common interfaces that would allow it to be used inappropriately.
//
// There are only two operations allowed on a Password:
// - Converting it to a hash.
// - Comparing it with an existing hash to see if they match.
type Password struct {
	plain []byte
}

// ParsePassword creates a new Password from a plaintext string.
// It errors if the password is too short or too long.
func ParsePassword(pwd string) (Password, error) {
	if len(pwd) < minPasswordBytes {
		return Password{}, ErrPasswordTooShort
	}
	if len(pwd) > maxPasswordBytes {
		return Password{}, ErrPasswordTooLong
	}

	return Password{
		plain: []byte(pwd),
	}, nil
}

// Match checks if the plaintext password matches the given hash.
func (p Password) Match(h BcryptHash) bool {
	return matchHash(h, p.plain)
}

// Hash hashes the plaintext password using the bcrypt algorithm.
func (p Password) Hash() (BcryptHash, error) {
	return hashBytes(p.plain)
}

func (p Password) Format(f fmt.State, verb rune) {
	f.Write([]byte(SecretMarker))
}

func (p Password) MarshalText() ([]byte, error) {
	return []byte(SecretMarker), nil
}
