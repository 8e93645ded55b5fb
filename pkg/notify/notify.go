// Package notify announces finished restore runs to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"time"
)

// RunFinished is published once per restore run.
type RunFinished struct {
	RunID      string         `json:"runId"`
	Mode       string         `json:"mode"`
	DryRun     bool           `json:"dryRun"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Migrated   map[string]int `json:"migrated"`
	Skipped    map[string]int `json:"skipped"`
	Warnings   int            `json:"warnings"`
	Critical   bool           `json:"critical"`
	ReportKey  string         `json:"reportKey,omitempty"`
}

// Publisher delivers run events.
type Publisher interface {
	Publish(ctx context.Context, ev RunFinished) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, RunFinished) error { return nil }
func (NopPublisher) Close() error                               { return nil }

func encode(ev RunFinished) ([]byte, error) {
	return json.Marshal(ev)
}
