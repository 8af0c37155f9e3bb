package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/eugenenazirov/trainconf/internal/hparams"
)

var (
	// ErrNotFound is returned when no document is stored under a name.
	ErrNotFound = errors.New("config not found")
	// ErrInvalidName indicates the document name violates naming rules.
	ErrInvalidName = errors.New("config names must be 1-128 characters of letters, digits, '.', '_' or '-' and start with a letter or digit")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Revision identifies one stored version of a named document.
type Revision struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Record is a document together with its current revision.
type Record struct {
	Revision
	Document *hparams.Document
}

// Storage keeps named training configs and their revision history.
type Storage interface {
	Get(ctx context.Context, name string) (Record, error)
	// Put stores doc as a new revision. Storing a document equivalent to the
	// current one returns the current revision unchanged.
	Put(ctx context.Context, name string, doc *hparams.Document) (Revision, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Revision, error)
	History(ctx context.Context, name string) ([]Revision, error)
	Close() error
}

// Option configures a storage backend.
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ValidateName checks name against the naming rules.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Checksum returns the hex SHA-256 of the canonical encoding of doc.
func Checksum(doc *hparams.Document) (string, []byte, error) {
	body, err := hparams.Encode(doc)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), body, nil
}
