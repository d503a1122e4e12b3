// Package token provides batch correlation token generation.
package token

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Generator creates batch-unique tokens. UUID v7 is the primary form; when
// the platform random source fails it falls back to a timestamp plus random
// suffix, which keeps tokens unique enough for correlation.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewToken returns a new batch token.
func (Generator) NewToken() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return fallbackToken(), nil
	}
	return id.String(), nil
}

func fallbackToken() string {
	return fmt.Sprintf("batch-%d-%06d", time.Now().UnixNano(), rand.Intn(1_000_000))
}
