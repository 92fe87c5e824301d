// Package id provides ID generation for kernel objects.
//
// Every kernel object that shows up in logs, metrics or the admin API gets
// a prefixed ULID:
//   - Sortable: IDs order by creation time
//   - Prefixed: thr_*, wq_*, pipe_*, span_*, req_* make logs readable
//   - Typed: separate types prevent mixing thread and queue IDs
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ThreadID identifies a kernel thread.
type ThreadID string

// QueueID identifies a work queue.
type QueueID string

// PipeID identifies a pipe.
type PipeID string

// SpanID identifies a trace span.
type SpanID string

// RequestID identifies an admin API request.
type RequestID string

const (
	ThreadPrefix  = "thr"
	QueuePrefix   = "wq"
	PipePrefix    = "pipe"
	SpanPrefix    = "span"
	RequestPrefix = "req"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator using monotonic crypto entropy, so IDs
// created within the same millisecond still sort by creation order.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewThreadID generates a new thread ID.
func NewThreadID() ThreadID {
	return ThreadID(Default().GenerateWithPrefix(ThreadPrefix))
}

// NewQueueID generates a new work queue ID.
func NewQueueID() QueueID {
	return QueueID(Default().GenerateWithPrefix(QueuePrefix))
}

// NewPipeID generates a new pipe ID.
func NewPipeID() PipeID {
	return PipeID(Default().GenerateWithPrefix(PipePrefix))
}

// NewSpanID generates a new span ID.
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

// NewRequestID generates a new request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id ThreadID) String() string  { return string(id) }
func (id QueueID) String() string   { return string(id) }
func (id PipeID) String() string    { return string(id) }
func (id SpanID) String() string    { return string(id) }
func (id RequestID) String() string { return string(id) }

// Split separates a prefixed ID into prefix and ULID. An unprefixed ID
// returns an empty prefix.
func Split(s string) (prefix string, u ulid.ULID, err error) {
	raw := s
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		prefix, raw = s[:i], s[i+1:]
	}
	u, err = ulid.Parse(raw)
	return prefix, u, err
}

// IsValid checks if s is a valid ULID, with or without prefix.
func IsValid(s string) bool {
	_, _, err := Split(s)
	return err == nil
}

// Timestamp extracts the creation time from an ID.
func Timestamp(s string) (time.Time, error) {
	_, u, err := Split(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
