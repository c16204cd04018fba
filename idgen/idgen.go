// Package idgen produces identifiers for runs, history records and companies.
//
// Constructors that need ids accept a Generator so tests can pin them.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// They sort by creation time, which keeps history listings and job
// directories in run order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix to every id of gen ("run_", "emp_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator ("<prefix>1", "<prefix>2", ...)
// for tests and fixtures. It is not safe for concurrent use.
func Sequence(prefix string) Generator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// Default is the process-wide generator.
var Default Generator = UUIDv7()

// New produces an id using Default.
func New() string {
	return Default()
}

// RunID returns a new run identifier.
func RunID() string {
	return "run_" + Default()
}
