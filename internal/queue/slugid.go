package queue

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// SlugID returns a random v4 UUID encoded as 22 URL-safe base64 characters.
// The first bit is cleared so IDs never start with '-'.
func SlugID() string {
	u := uuid.New()
	u[0] &= 0x7f
	return base64.RawURLEncoding.EncodeToString(u[:])
}
