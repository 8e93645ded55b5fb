package app

import (
	"fmt"
	"log/slog"
	"time"

	"otzaria/pkg/legacy"
)

// Entity names used as report keys.
const (
	entityUsers    = "users"
	entityBooks    = "books"
	entityPages    = "pages"
	entityMessages = "messages"
	entityReplies  = "replies"
	entityUploads  = "uploads"
	entityRecords  = "records"
	entityContent  = "content"
)

// runState carries everything one restore run builds up. It is created per
// Run and threaded through the stages; nothing outlives the run.
type runState struct {
	runID     string
	startedAt time.Time
	logger    *slog.Logger

	entries  []legacy.Entry
	messages []any

	users    []any
	content  legacy.ContentIndex
	groups   *pageGroups
	identity *identityMap

	bookIDs map[string]string // book name -> book ID

	migrated map[string]int
	skipped  map[string]int
	warnings []string
}

func newRunState(runID string, now time.Time, logger *slog.Logger) *runState {
	return &runState{
		runID:     runID,
		startedAt: now,
		logger:    logger,
		bookIDs:   make(map[string]string),
		migrated:  make(map[string]int),
		skipped:   make(map[string]int),
	}
}

// warn logs a recoverable problem and records it for the report.
func (s *runState) warn(msg string, args ...any) {
	s.logger.Warn(msg, args...)
	s.warnings = append(s.warnings, formatWarning(msg, args...))
}

func (s *runState) skip(entity string, n int) {
	if n > 0 {
		s.skipped[entity] += n
	}
}

func (s *runState) count(entity string, n int) {
	s.migrated[entity] += n
}

// formatWarning renders slog-style key/value pairs after the message.
func formatWarning(msg string, args ...any) string {
	out := msg
	for i := 0; i+1 < len(args); i += 2 {
		out += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	return out
}
