package worker

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator assigns identifiers to submitted requests.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 request ids.
//
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequentialGenerator returns prefix-1, prefix-2, ... for tests and
// reproducible traces.
type SequentialGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialGenerator creates a generator. An empty prefix means "req".
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	if prefix == "" {
		prefix = "req"
	}
	return &SequentialGenerator{prefix: prefix}
}

// Generate returns the next identifier.
func (g *SequentialGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
