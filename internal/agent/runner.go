package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"leadline/internal/domain"
	"leadline/internal/logger"
	"leadline/internal/repo"
)

const tracerName = "leadline/agent"

// Runner is the only way agents are invoked. Each run writes one log row in
// the running state before the agent body starts and finalizes it exactly
// once afterwards.
type Runner struct {
	Repo     repo.Repo
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Now      func() time.Time
	NewRunID func() string
}

func (r Runner) withDefaults() Runner {
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.NewRunID == nil {
		r.NewRunID = uuid.NewString
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	if r.Tracer == nil {
		r.Tracer = otel.Tracer(tracerName)
	}
	return r
}

// Run executes a under a fresh execution log. On an unexpected failure the
// log is finalized as failed and the classified *ExecutionError is returned
// alongside the failed outcome.
func (r Runner) Run(ctx context.Context, a Agent, input json.RawMessage) (Outcome, error) {
	r = r.withDefaults()
	runID := r.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx, r.Logger).With("agent", string(a.Kind()))

	start := r.Now()
	startStamp := domain.FormatTime(start)
	logID, err := r.Repo.CreateRunLog(ctx, domain.AgentExecutionLog{
		AgentName: string(a.Kind()),
		RunID:     runID,
		StartTime: startStamp,
		Status:    domain.RunStatusRunning,
		CreatedAt: startStamp,
	})
	if err != nil {
		ee := &ExecutionError{Kind: FailureStore, Err: fmt.Errorf("create execution log: %w", err)}
		log.Error("agent run not started", "error", ee.Error())
		return Outcome{Status: domain.RunStatusFailed, ErrorMessage: ee.Short()}, ee
	}
	log = log.With("log_id", logID)
	log.Info("agent run started")

	ctx, span := r.Tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.kind", string(a.Kind())),
		attribute.String("agent.run_id", runID),
		attribute.Int64("agent.log_id", logID),
	))
	defer span.End()

	out, runErr := execute(ctx, a, input)
	var ee *ExecutionError
	if runErr == nil && !domain.TerminalRunStatus(out.Status) {
		runErr = &ExecutionError{Kind: FailureInternal, Err: fmt.Errorf("agent returned non-terminal status %q", out.Status)}
	}
	if runErr != nil {
		ee = Classify(runErr)
		out = Outcome{Status: domain.RunStatusFailed, RecordsProcessed: 0, ErrorMessage: ee.Short()}
		span.RecordError(ee)
		span.SetStatus(codes.Error, string(ee.Kind))
		var pe *panicError
		if errors.As(ee, &pe) {
			log.Error("agent panicked", "panic", pe.Error(), "stack", string(pe.stack))
		}
	}

	errText := out.ErrorMessage
	if len([]rune(errText)) > MaxErrorMessage {
		errText = string([]rune(errText)[:MaxErrorMessage])
	}
	end := r.Now()
	if end.Before(start) {
		end = start
	}
	// The run may have been canceled; the log must still close.
	finCtx := context.WithoutCancel(ctx)
	if err := r.Repo.FinalizeRunLog(finCtx, logID, repo.RunLogResult{
		Status:           out.Status,
		EndTime:          domain.FormatTime(end),
		RecordsProcessed: out.RecordsProcessed,
		ErrorMessage:     errText,
	}); err != nil {
		fe := &ExecutionError{Kind: FailureStore, Err: fmt.Errorf("finalize execution log %d: %w", logID, err)}
		log.Error("agent run not finalized", "error", fe.Error())
		if ee == nil {
			ee = fe
		}
	}

	span.SetAttributes(
		attribute.String("agent.status", out.Status),
		attribute.Int("agent.records_processed", out.RecordsProcessed),
	)
	attrs := []any{"status", out.Status, "processed", out.RecordsProcessed, "duration", end.Sub(start)}
	if ee != nil {
		log.Error("agent run failed", append(attrs, "failure", string(ee.Kind), "error", ee.Error())...)
		return out, ee
	}
	if out.ErrorMessage != "" {
		attrs = append(attrs, "error", out.ErrorMessage)
	}
	log.Info("agent run finished", attrs...)
	return out, nil
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprint(p.value) }

func execute(ctx context.Context, a Agent, input json.RawMessage) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ExecutionError{Kind: FailurePanic, Err: &panicError{value: p, stack: debug.Stack()}}
		}
	}()
	return a.Execute(ctx, input)
}
