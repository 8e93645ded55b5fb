package app

import "errors"

var (
	// ErrLocked indicates another restore run holds the target.
	ErrLocked = errors.New("restore already running")
	// ErrNoSources indicates no legacy dump was configured.
	ErrNoSources = errors.New("no legacy sources configured")
	// ErrInvalidMode indicates the restore mode is missing or unknown.
	ErrInvalidMode = errors.New("restore mode must be upsert or replace")
)
