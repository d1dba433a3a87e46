// Package dispatch schedules agent runs without making callers wait for them.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"leadline/internal/agent"
	"leadline/internal/domain"
	"leadline/internal/repo"
)

// ErrClosed is returned by Schedule after Close has been called.
var ErrClosed = errors.New("dispatcher closed")

const (
	DefaultWorkers  = 4
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

type Options struct {
	// Workers bounds how many runs execute at once. Extra runs queue.
	Workers int
	Logger  *slog.Logger
	// OnFinish, when set, is called after every run with the runner's result.
	OnFinish func(kind agent.Kind, out agent.Outcome, err error)
}

// Dispatcher resolves agent names against the closed registry and hands
// runs to the Runner on background goroutines.
type Dispatcher struct {
	runner   agent.Runner
	deps     agent.Deps
	repo     repo.Repo
	sem      *semaphore.Weighted
	logger   *slog.Logger
	onFinish func(agent.Kind, agent.Outcome, error)

	// stop cancels every in-flight run once Close gives up waiting.
	stopCtx context.Context
	stop    context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(runner agent.Runner, deps agent.Deps, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	stopCtx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		stopCtx:  stopCtx,
		stop:     stop,
		runner:   runner,
		deps:     deps,
		repo:     runner.Repo,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		logger:   opts.Logger,
		onFinish: opts.OnFinish,
	}
}

// Schedule validates name and starts the run in the background. Unknown
// names fail synchronously with agent.ErrUnknownAgent and create no log.
// The run outlives ctx; only Close waits for it or cancels it.
func (d *Dispatcher) Schedule(ctx context.Context, name string, input json.RawMessage) (agent.Kind, error) {
	kind, err := agent.ParseKind(name)
	if err != nil {
		d.logger.Warn("agent schedule rejected", "agent", name, "error", err.Error())
		return "", err
	}
	a, err := agent.New(kind, d.deps)
	if err != nil {
		return "", err
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return "", ErrClosed
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	release := context.AfterFunc(d.stopCtx, cancel)
	payload := append(json.RawMessage(nil), input...)
	go func() {
		defer d.wg.Done()
		defer release()
		defer cancel()
		if err := d.sem.Acquire(runCtx, 1); err != nil {
			d.logger.Error("agent slot not acquired", "agent", string(kind), "error", err.Error())
			return
		}
		defer d.sem.Release(1)
		out, err := d.runner.Run(runCtx, a, payload)
		if d.onFinish != nil {
			d.onFinish(kind, out, err)
		}
	}()
	d.logger.Info("agent scheduled", "agent", string(kind))
	return kind, nil
}

// LogQuery selects execution logs, newest-created first.
type LogQuery struct {
	Skip      int
	Limit     int
	AgentName string
}

// ReadLogs returns past execution logs. Limit defaults to 50 and is capped
// at 500.
func (d *Dispatcher) ReadLogs(ctx context.Context, q LogQuery) ([]domain.AgentExecutionLog, error) {
	if q.Skip < 0 {
		q.Skip = 0
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLogLimit
	}
	if q.Limit > MaxLogLimit {
		q.Limit = MaxLogLimit
	}
	logs, err := d.repo.ListRunLogs(ctx, repo.RunLogFilters{
		AgentName: strings.ToLower(strings.TrimSpace(q.AgentName)),
		Skip:      q.Skip,
		Limit:     q.Limit,
	})
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []domain.AgentExecutionLog{}
	}
	return logs, nil
}

// Agents describes the registry.
func (d *Dispatcher) Agents() []agent.Descriptor {
	return agent.Catalogue()
}

// Close stops accepting runs and waits for scheduled ones to finish. When
// ctx ends first, the remaining runs are canceled and Close still waits for
// the runner to finalize their logs before returning ctx.Err().
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	defer d.stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	d.logger.Warn("drain deadline passed, canceling agent runs", "error", ctx.Err().Error())
	d.stop()
	<-done
	return ctx.Err()
}
