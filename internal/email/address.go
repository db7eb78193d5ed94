package email

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrInvalidEmail indicates an email address is not valid.
var ErrInvalidEmail = errors.New("invalid email address")

// Address is a normalized email address.
//
// Addresses act as the lookup key for user records and verification
// codes, so two inputs that only differ in case or surrounding
// whitespace must normalize to the same Address.
type Address string

// Normalize trims surrounding whitespace and lower-cases the input
// without checking its shape. Lookups by email go through Normalize so
// unknown addresses fail on the lookup itself, not on syntax.
func Normalize(raw string) Address {
	return Address(strings.ToLower(strings.TrimSpace(raw)))
}

// ParseAddress normalizes the given string and checks if it's shaped like
// an email address. It returns an error if the input is not a valid email
// address. Note that this doesn't guarantee the email address actually
// exists, it only checks the format.
func ParseAddress(raw string) (Address, error) {
	normalized := string(Normalize(raw))

	addr, err := mail.ParseAddress(normalized)
	if err != nil {
		return Address(""), ErrInvalidEmail
	}

	// mail.ParseAddress accepts addresses with names and comments:
	// "Alice <alice@example.com>(comment)".
	//
	// We only want to accept inputs that consist of the address part.
	if addr.Address != normalized {
		return Address(""), ErrInvalidEmail
	}

	// mail.ParseAddress also accepts dotless domains ("user@localhost").
	// No account ever lives on one of those, reject them.
	at := strings.LastIndex(normalized, "@")
	if !strings.Contains(normalized[at+1:], ".") {
		return Address(""), ErrInvalidEmail
	}

	return Address(addr.Address), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}

	*a = addr

	return nil
}
