// Package experiment records the history of training runs.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

var ErrNotFound = errors.New("experiment not found")

// Experiment is one training run as seen by the history page.
type Experiment struct {
	ID           string     `json:"experiment_id"`
	RunTimestamp string     `json:"run_timestamp"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ArtifactDir  string     `json:"artifact_dir"`
	Message      string     `json:"message,omitempty"`
}

func (e Experiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(e.RunTimestamp) == "" {
		return errors.New("run timestamp is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("status unsupported: %q", e.Status)
	}
	if e.StartedAt.IsZero() {
		return errors.New("started at is required")
	}
	return nil
}

type Filter struct {
	Status Status
	Limit  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// Store persists experiments. List returns the newest first.
type Store interface {
	Create(ctx context.Context, e Experiment) error
	Finish(ctx context.Context, id string, status Status, endedAt time.Time, message string) (Experiment, error)
	Get(ctx context.Context, id string) (Experiment, error)
	List(ctx context.Context, filter Filter) ([]Experiment, error)
}

func validateFinish(id string, status Status) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("experiment id is required")
	}
	if status != StatusSucceeded && status != StatusFailed {
		return fmt.Errorf("final status unsupported: %q", status)
	}
	return nil
}
