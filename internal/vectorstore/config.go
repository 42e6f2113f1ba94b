package vectorstore

import (
	"fmt"
	"regexp"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// collectionNamePattern validates collection names: lowercase letters,
// digits, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names outside collectionNamePattern,
// closing off path traversal and other injection attempts through a
// collection name.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// QdrantConfig configures a QdrantRepository.
type QdrantConfig struct {
	Host   string
	Port   int
	UseTLS bool

	// MaxRetries and RetryBackoff govern retryOperation's exponential
	// backoff loop for transient gRPC errors.
	MaxRetries   int
	RetryBackoff time.Duration

	// MaxMessageSize bounds gRPC message size in bytes; memory payloads are
	// small but batch upserts can still be large.
	MaxMessageSize int

	// CircuitBreakerThreshold is the consecutive-failure count that opens
	// the circuit for CircuitBreakerCooldown.
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration

	// Distance is the similarity metric used when a collection is created.
	Distance qdrant.Distance
}

// Validate reports whether the configuration is usable.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidCollectionName)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidCollectionName, c.Port)
	}
	return nil
}

// ApplyDefaults fills unset fields with the teacher-established defaults.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerCooldown == 0 {
		c.CircuitBreakerCooldown = 30 * time.Second
	}
	if c.Distance == 0 {
		c.Distance = qdrant.Distance_Cosine
	}
}
