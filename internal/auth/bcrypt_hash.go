package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost matches the cost the simulated backend always used.
const bcryptCost = 10

// ErrInvalidHash indicates a string is not a valid bcrypt hash.
var ErrInvalidHash = errors.New("invalid bcrypt hash")

// BcryptHash is a salted bcrypt hash of a password.
//
// Hashes are persisted as part of user records but are never part of the
// public user view.
type BcryptHash struct {
	encoded []byte
}

// ParseBcryptHash parses a hash in the standard bcrypt encoding, as
// produced by String/MarshalText.
func ParseBcryptHash(raw string) (BcryptHash, error) {
	if _, err := bcrypt.Cost([]byte(raw)); err != nil {
		return BcryptHash{}, ErrInvalidHash
	}

	return BcryptHash{encoded: []byte(raw)}, nil
}

// MatchBytes checks if the provided plaintext matches the hash using a
// constant-effort comparison.
func (h BcryptHash) MatchBytes(plain []byte) bool {
	return matchHash(h, plain)
}

// String returns the standard bcrypt encoding of the hash.
func (h BcryptHash) String() string {
	return string(h.encoded)
}

func (h BcryptHash) MarshalText() ([]byte, error) {
	out := make([]byte, len(h.encoded))
	copy(out, h.encoded)
	return out, nil
}

func (h *BcryptHash) UnmarshalText(text []byte) error {
	parsed, err := ParseBcryptHash(string(text))
	if err != nil {
		return err
	}

	*h = parsed

	return nil
}

func hashBytes(plain []byte) (BcryptHash, error) {
	encoded, err := bcrypt.GenerateFromPassword(plain, bcryptCost)
	if err != nil {
		return BcryptHash{}, err
	}

	return BcryptHash{encoded: encoded}, nil
}

func matchHash(h BcryptHash, plain []byte) bool {
	return bcrypt.CompareHashAndPassword(h.encoded, plain) == nil
}
