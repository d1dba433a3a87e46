// Package agent holds the pipeline agents and the runner that every agent
// invocation goes through.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"leadline/internal/events"
	"leadline/internal/repo"
)

// Agent is one pipeline stage. Execute reports anticipated problems (bad
// input, failed webhook calls) through Outcome; a returned error means the
// run failed unexpectedly.
type Agent interface {
	Kind() Kind
	Name() string
	Description() string
	Execute(ctx context.Context, input json.RawMessage) (Outcome, error)
}

// Outcome is the result of one execution, folded into its log row.
type Outcome struct {
	Status           string         `json:"status"`
	RecordsProcessed int            `json:"records_processed"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Enricher triggers asynchronous analysis on the workflow engine.
type Enricher interface {
	TriggerTechDebtAnalysis(ctx context.Context, leadID, website string) error
}

// DefaultTechDebtLimit caps a tech-debt run when no limit is given.
const DefaultTechDebtLimit = 10

// Deps are the collaborators shared by all agents.
type Deps struct {
	Repo          repo.Repo
	Bridge        Enricher
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
	Sanitizer     *bluemonday.Policy
	TechDebtLimit int
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Sanitizer == nil {
		d.Sanitizer = bluemonday.StrictPolicy()
	}
	if d.TechDebtLimit <= 0 {
		d.TechDebtLimit = DefaultTechDebtLimit
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

func (d Deps) events() events.Writer {
	return events.Writer{Repo: d.Repo, Now: d.Now}
}

func actorFor(k Kind) string {
	return "agent:" + string(k)
}
