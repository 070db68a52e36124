package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewClientToken returns a fresh idempotency token for a message.
// Clients may supply their own; this is the server-side default.
func NewClientToken() string {
	return uuid.NewString()
}
