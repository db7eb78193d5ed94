package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/creatordash/authsim/internal/email"
)

// User is the public view of a user record: the subset that is safe to
// return to callers. It never includes the password hash.
type User struct {
	ID        uuid.UUID     `json:"id"`
	Email     email.Address `json:"email"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// userRecord is the persisted form of a user. Records live in the users
// map of the durable scope, keyed by normalized email.
type userRecord struct {
	ID           uuid.UUID     `json:"id"`
	Email        email.Address `json:"email"`
	PasswordHash BcryptHash    `json:"passwordHash"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (r userRecord) public() User {
	return User{
		ID:        r.ID,
		Email:     r.Email,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
