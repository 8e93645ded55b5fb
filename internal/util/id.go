package util

import (
	"strings"

	"github.com/google/uuid"
)

// restoreNamespace scopes StableID so ids derived from legacy keys never collide
// with ids from other namespaces.
var restoreNamespace = uuid.MustParse("6f1c7b52-3f0e-4d8e-9a51-0c6a5d1e2b74")

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// StableID returns a name-based UUID for the given parts. The same parts always
// yield the same ID, which keeps re-runs of the restore from duplicating rows.
func StableID(parts ...string) string {
	return uuid.NewSHA1(restoreNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}
