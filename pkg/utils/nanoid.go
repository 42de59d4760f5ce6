package utils

import (
	"crypto/rand"
)

// traceAlphabet holds exactly 64 characters so a random byte masked with 63 indexes it
var traceAlphabet = []byte("_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

const (
	defaultLength = 12
)

// NewNanoID returns a short random id used to correlate collector requests
func NewNanoID() string {
	return newID(defaultLength)
}

func newID(length int) string {
	bytes := make([]byte, length)

	// crypto/rand.Read never returns an error on supported platforms
	_, _ = rand.Read(bytes)

	id := make([]byte, length)
	for i := range length {
		id[i] = traceAlphabet[bytes[i]&63]
	}
	return string(id)
}
