package audit

import (
	"context"
	"errors"
	"time"

	"github.com/user/content-audit/internal/accounts"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"github.com/user/content-audit/internal/worker"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

// Engine drives the audit. Step is the single idempotent entry point: a
// scheduler (cron tick, HTTP trigger) calls it repeatedly and each call
// makes bounded progress against the in-progress snapshot, checkpointing
// through the content table so any call can pick up where the last one
// stopped.
type Engine struct {
	snapshots  *SnapshotManager
	snapRepo   repository.SnapshotRepository
	content    repository.ContentRepository
	state      repository.StateRepository
	accounts   *accounts.Manager
	workers    []worker.Worker
	classifier worker.Reclassifier
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// timeBudget bounds one Step call; lockTTL bounds how long a crashed
	// holder can block later calls.
	timeBudget time.Duration
	lockTTL    time.Duration

	now func() time.Time
}

// NewEngine wires the engine. Workers run in the given order each pass;
// the order matters because the scope stage admits rows the metric
// workers then see as pending.
func NewEngine(
	snapshots *SnapshotManager,
	snapRepo repository.SnapshotRepository,
	content repository.ContentRepository,
	state repository.StateRepository,
	acct *accounts.Manager,
	workers []worker.Worker,
	classifier worker.Reclassifier,
	m *metrics.Metrics,
	logger *zap.Logger,
	timeBudget, lockTTL time.Duration,
) *Engine {
	return &Engine{
		snapshots:  snapshots,
		snapRepo:   snapRepo,
		content:    content,
		state:      state,
		accounts:   acct,
		workers:    workers,
		classifier: classifier,
		metrics:    m,
		logger:     logger,
		timeBudget: timeBudget,
		lockTTL:    lockTTL,
		now:        time.Now,
	}
}

// Progress is the externally visible audit status.
type Progress struct {
	State      entity.AuditState       `json:"state"`
	SnapshotID int64                   `json:"snapshot_id,omitempty"`
	Total      int64                   `json:"total"`
	Pending    int64                   `json:"pending"`
	Counts     map[entity.Action]int64 `json:"counts"`
	Messages   []entity.Message        `json:"messages,omitempty"`
}

// Start begins (or with force, restarts) an audit by creating the new
// snapshot and enabling stepping. Starting while a new snapshot already
// exists resumes it rather than duplicating work.
func (e *Engine) Start(ctx context.Context, force bool) (*entity.Snapshot, error) {
	snap, err := e.snapshots.CreateNew(ctx, force)
	if err != nil {
		return nil, err
	}
	if err := e.state.SetBool(ctx, repository.KeyPaused, false); err != nil {
		return nil, err
	}
	if err := e.state.ClearMessages(ctx); err != nil {
		return nil, err
	}
	if err := e.state.SetBool(ctx, repository.KeyAuditEnabled, true); err != nil {
		return nil, err
	}
	e.logger.Info("audit started", zap.Int64("snapshot_id", snap.ID), zap.Bool("force", force))
	return snap, nil
}

// Stop disables stepping. The in-progress snapshot keeps its rows and a
// later Start resumes it.
func (e *Engine) Stop(ctx context.Context) error {
	return e.state.SetBool(ctx, repository.KeyAuditEnabled, false)
}

// Resume clears the paused flag and its messages so the next Step runs.
// Used by the manual "try again" action; Step also resumes on its own
// when a recheck shows the blocker cleared.
func (e *Engine) Resume(ctx context.Context) error {
	if err := e.state.SetBool(ctx, repository.KeyPaused, false); err != nil {
		return err
	}
	return e.state.ClearMessages(ctx)
}

// Step makes one bounded pass of progress. It is safe to call from
// overlapping schedulers: a TTL lock makes concurrent calls no-op with
// zero writes and zero outbound API calls. The returned state reflects
// where the audit stands after this call.
func (e *Engine) Step(ctx context.Context) (entity.AuditState, error) {
	enabled, err := e.state.GetBool(ctx, repository.KeyAuditEnabled)
	if err != nil {
		return "", err
	}
	if !enabled {
		return e.observeState(ctx)
	}

	token, ok, err := e.state.AcquireLock(ctx, repository.KeyStepLock, e.lockTTL)
	if err != nil {
		return "", err
	}
	if !ok {
		e.logger.Debug("step lock held elsewhere, skipping")
		return e.observeState(ctx)
	}
	defer func() {
		if err := e.state.ReleaseLock(ctx, repository.KeyStepLock, token); err != nil {
			e.logger.Warn("step lock release failed", zap.Error(err))
		}
	}()

	state, err := e.step(ctx)
	if err == nil {
		e.metrics.StepsTotal.WithLabelValues(string(state)).Inc()
	}
	return state, err
}

func (e *Engine) step(ctx context.Context) (entity.AuditState, error) {
	paused, err := e.state.GetBool(ctx, repository.KeyPaused)
	if err != nil {
		return "", err
	}
	if paused {
		if blocked := e.recheck(ctx); len(blocked) > 0 {
			if err := e.state.SetMessages(ctx, blocked); err != nil {
				return "", err
			}
			return entity.AuditPaused, nil
		}
		e.logger.Info("pause blockers cleared, resuming audit")
		if err := e.Resume(ctx); err != nil {
			return "", err
		}
	}

	snap, err := e.snapRepo.New(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return e.observeState(ctx)
		}
		return "", err
	}

	deadline := e.now().Add(e.timeBudget)
	for _, w := range e.workers {
		state, done, err := e.runWorker(ctx, w, snap.ID, deadline)
		if err != nil || !done {
			return state, err
		}
	}

	if err := e.classifyStragglers(ctx, snap.ID); err != nil {
		return "", err
	}

	pending, err := e.content.CountPending(ctx, snap.ID)
	if err != nil {
		return "", err
	}
	if pending > 0 {
		// Rows a halted batch left behind; a later call retries them.
		return entity.AuditRunning, nil
	}

	if err := e.snapshots.Promote(ctx); err != nil {
		return "", err
	}
	if err := e.state.SetBool(ctx, repository.KeyAuditEnabled, false); err != nil {
		return "", err
	}
	e.refreshGauges(ctx, snap.ID)
	e.logger.Info("audit complete", zap.Int64("snapshot_id", snap.ID))
	return entity.AuditComplete, nil
}

// stragglerBatch bounds one sweep fetch of unclassified rows.
const stragglerBatch = 50

// classifyStragglers finishes rows whose metrics are complete but which
// still sit in analyzing, left behind when a classification attempt
// failed after the last metric write. Without the sweep such rows count
// as pending on every step and the snapshot never promotes.
func (e *Engine) classifyStragglers(ctx context.Context, snapshotID int64) error {
	for {
		ids, err := e.content.PendingFinal(ctx, snapshotID, stragglerBatch)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		e.logger.Info("classifying rows left behind by a failed pass",
			zap.Int64("snapshot_id", snapshotID), zap.Int("rows", len(ids)))
		for _, id := range ids {
			if err := e.classifier.Reclassify(ctx, snapshotID, id); err != nil {
				return err
			}
		}
	}
}

// runWorker drains one worker's pending rows in batches. done is false
// when the time budget ran out or the worker halted (paused); the caller
// stops the pass either way and a later Step resumes.
func (e *Engine) runWorker(ctx context.Context, w worker.Worker, snapshotID int64, deadline time.Time) (entity.AuditState, bool, error) {
	for {
		if !e.now().Before(deadline) {
			e.logger.Debug("step time budget exhausted", zap.String("worker", w.Name()))
			return entity.AuditRunning, false, nil
		}

		ids, err := w.Pending(ctx, snapshotID, w.BatchSize())
		if err != nil {
			return "", false, err
		}
		if len(ids) == 0 {
			return entity.AuditRunning, true, nil
		}

		msg, err := w.ProcessBatch(ctx, snapshotID, ids)
		if err != nil {
			e.metrics.WorkerBatchesTotal.WithLabelValues(w.Name(), "error").Inc()
			return "", false, err
		}
		if msg != nil {
			e.metrics.WorkerBatchesTotal.WithLabelValues(w.Name(), "halted").Inc()
			if err := e.pause(ctx, *msg); err != nil {
				return "", false, err
			}
			return entity.AuditPaused, false, nil
		}
		e.metrics.WorkerBatchesTotal.WithLabelValues(w.Name(), "ok").Inc()
	}
}

// pause persists the paused flag and the reason so any later invocation
// (and the progress endpoint) can explain the halt.
func (e *Engine) pause(ctx context.Context, msg entity.Message) error {
	e.logger.Warn("audit paused",
		zap.String("type", string(msg.Type)),
		zap.String("provider", string(msg.Provider)),
		zap.String("reason", msg.Text))
	if err := e.state.SetBool(ctx, repository.KeyPaused, true); err != nil {
		return err
	}
	msgs, err := e.state.Messages(ctx)
	if err != nil {
		return err
	}
	return e.state.SetMessages(ctx, append(msgs, msg))
}

// recheck re-validates persisted pause reasons and returns the ones that
// still block. Rate-limit pauses clear by waiting, so the next step
// always retries them; disconnected accounts block until the user
// reconnects; environment reasons are retried optimistically.
func (e *Engine) recheck(ctx context.Context) []entity.Message {
	msgs, err := e.state.Messages(ctx)
	if err != nil {
		e.logger.Warn("pause message read failed, staying paused", zap.Error(err))
		return []entity.Message{{
			Type:      entity.MessageEnvironment,
			Text:      "state store unreachable: " + err.Error(),
			CreatedAt: e.now(),
		}}
	}

	var blocked []entity.Message
	for _, msg := range msgs {
		if msg.Type != entity.MessageDisconnected {
			continue
		}
		connected, err := e.accounts.Connected(ctx, accountFor(msg.Provider))
		if err != nil {
			e.logger.Warn("account recheck failed", zap.Error(err))
			blocked = append(blocked, msg)
			continue
		}
		if !connected {
			blocked = append(blocked, msg)
		}
	}
	return blocked
}

// accountFor maps a request provider to the account that authenticates
// it. The two Google APIs share one account.
func accountFor(p entity.Provider) entity.Provider {
	switch p {
	case entity.ProviderAnalytics, entity.ProviderSearchConsole:
		return entity.ProviderGoogle
	}
	return p
}

// Progress reports the audit's externally visible status. It prefers the
// in-progress snapshot and falls back to the current one so the endpoint
// keeps serving last-good numbers between audits.
func (e *Engine) Progress(ctx context.Context) (*Progress, error) {
	state, err := e.observeState(ctx)
	if err != nil {
		return nil, err
	}
	p := &Progress{State: state, Counts: map[entity.Action]int64{}}

	msgs, err := e.state.Messages(ctx)
	if err != nil {
		return nil, err
	}
	p.Messages = msgs

	snap, err := e.snapRepo.New(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		snap, err = e.snapRepo.Current(ctx)
		if errors.Is(err, repository.ErrNotFound) {
			return p, nil
		}
	}
	if err != nil {
		return nil, err
	}
	p.SnapshotID = snap.ID

	counts, err := e.content.CountByAction(ctx, snap.ID)
	if err != nil {
		return nil, err
	}
	for action, n := range counts {
		p.Counts[action] = n
		p.Total += n
		if action.Pending() {
			p.Pending += n
		}
	}
	return p, nil
}

// observeState derives the audit state without taking the lock or
// writing anything.
func (e *Engine) observeState(ctx context.Context) (entity.AuditState, error) {
	paused, err := e.state.GetBool(ctx, repository.KeyPaused)
	if err != nil {
		return "", err
	}
	enabled, err := e.state.GetBool(ctx, repository.KeyAuditEnabled)
	if err != nil {
		return "", err
	}
	if enabled && paused {
		return entity.AuditPaused, nil
	}
	if _, err := e.snapRepo.New(ctx); err == nil {
		if enabled {
			return entity.AuditRunning, nil
		}
		return entity.AuditIdle, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	if _, err := e.snapRepo.Current(ctx); err == nil {
		return entity.AuditComplete, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	return entity.AuditIdle, nil
}

// refreshGauges republishes per-action row counts after promotion.
func (e *Engine) refreshGauges(ctx context.Context, snapshotID int64) {
	counts, err := e.content.CountByAction(ctx, snapshotID)
	if err != nil {
		e.logger.Warn("gauge refresh failed", zap.Error(err))
		return
	}
	for _, action := range entity.Actions() {
		e.metrics.RowsByAction.WithLabelValues(string(action)).Set(float64(counts[action]))
	}
}
