package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
	"github.com/anddigital/diagnosis-platform/internal/events"
	"github.com/anddigital/diagnosis-platform/internal/observability/metrics"
	"github.com/anddigital/diagnosis-platform/internal/resultstore"
	"github.com/anddigital/diagnosis-platform/internal/workflow"
	"github.com/anddigital/diagnosis-platform/pkg/logging"
)

// ErrNoResultAvailable means the wait window elapsed with nothing from any
// channel. Terminal for the session; the user must restart.
var ErrNoResultAvailable = errors.New("reconcile: no result available")

// Runner is the direct-call channel: the blocking workflow execution.
type Runner interface {
	Run(ctx context.Context, req workflow.RunRequest) (json.RawMessage, error)
}

// Archiver persists resolved sessions. Best-effort; failures are logged
// and never affect resolution.
type Archiver interface {
	ArchiveResolved(ctx context.Context, snap Snapshot, req *diagnosis.Request) error
}

// Config wires a Controller.
type Config struct {
	Store    *resultstore.Store
	Bus      *events.Bus
	Runner   Runner
	Archiver Archiver
	Logger   *logging.Logger
	Metrics  *metrics.ReconcileMetrics

	// PollInterval is how often the durable store is checked while
	// waiting. WaitTimeout bounds the whole wait.
	PollInterval time.Duration
	WaitTimeout  time.Duration

	// Clock feeds normalization so synthesized ids are deterministic
	// under test. Defaults to time.Now.
	Clock func() time.Time
}

// Controller owns the waiting-for-result state. For each submission it
// races the direct call against the webhook delivery paths under a single
// cancellation context, resolving to exactly one result or an error.
type Controller struct {
	store    *resultstore.Store
	bus      *events.Bus
	runner   Runner
	archiver Archiver
	logger   *logging.Logger
	metrics  *metrics.ReconcileMetrics

	pollInterval time.Duration
	waitTimeout  time.Duration
	clock        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewController creates a Controller.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Controller{
		store:        cfg.Store,
		bus:          cfg.Bus,
		runner:       cfg.Runner,
		archiver:     cfg.Archiver,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		pollInterval: cfg.PollInterval,
		waitTimeout:  cfg.WaitTimeout,
		clock:        cfg.Clock,
		sessions:     make(map[string]*Session),
	}
}

// Resolution is the outcome of a submission.
type Resolution struct {
	SessionID string            `json:"session_id"`
	Channel   Channel           `json:"channel"`
	Result    *diagnosis.Result `json:"result"`
	Report    diagnosis.Report  `json:"report"`
}

type directOutcome struct {
	raw []byte
	err error
}

// Submit validates the request, dispatches the direct call, and waits for
// the first channel to produce a usable result. It blocks until the
// session resolves or the wait window elapses.
func (c *Controller) Submit(ctx context.Context, sessionID, tenant string, req *diagnosis.Request) (*Resolution, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := c.clock()
	user := "user_" + strconv.FormatInt(now.UnixMilli(), 10)

	// The race must outlive the HTTP request that started it: a closed
	// browser tab must not kill a webhook that is already in flight.
	raceCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := newSession(sessionID, user, tenant, cancel)
	c.register(sess)

	// A fresh submission must not observe a stale prior-session entry.
	if err := c.store.ClearResult(raceCtx, sessionID); err != nil {
		c.logger.Warn("failed to clear stale result", "session_id", sessionID, "error", err)
	}

	directCh := make(chan directOutcome, 1)
	go func() {
		raw, err := c.runner.Run(raceCtx, workflow.RunRequest{
			Inputs: req.Inputs(),
			User:   user,
			Tenant: tenant,
		})
		directCh <- directOutcome{raw: raw, err: err}
	}()

	sess.enterWaiting(now, c.waitTimeout)
	c.logger.Info("waiting for diagnosis result",
		"session_id", sessionID,
		"deadline", sess.Snapshot().Deadline,
	)

	res, ch, err := c.race(raceCtx, sess, directCh)
	if err != nil {
		sess.fail()
		return nil, err
	}
	c.finish(sess, req, res, ch)
	return &Resolution{
		SessionID: sessionID,
		Channel:   ch,
		Result:    res,
		Report:    diagnosis.ParseReport(res),
	}, nil
}

// race implements the first-resolution-wins rule across all channels.
func (c *Controller) race(ctx context.Context, sess *Session, directCh <-chan directOutcome) (*diagnosis.Result, Channel, error) {
	busCh, busCancel := c.bus.Subscribe(sess.ID)
	defer busCancel()
	sharedCh, sharedCancel := c.bus.Subscribe(resultstore.DefaultSession)
	defer sharedCancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.waitTimeout)
	defer deadline.Stop()

	// A direct-call payload that arrived but did not qualify as a win is
	// kept for the deadline fallback.
	var fallback *diagnosis.Result

	for {
		select {
		case out := <-directCh:
			if out.err != nil {
				// Channel failures are swallowed: the webhook may
				// still deliver the same run.
				c.logger.Warn("direct call failed, relying on webhook delivery",
					"session_id", sess.ID, "error", out.err)
				continue
			}
			res, err := diagnosis.Normalize(out.raw, c.clock())
			if err != nil {
				c.metrics.ObserveMalformed(string(ChannelDirect))
				c.logger.Warn("direct call payload not normalizable", "session_id", sess.ID, "error", err)
				continue
			}
			if res.HasUsableOutput() {
				return res, ChannelDirect, nil
			}
			fallback = res
			c.logger.Info("direct call produced non-final payload, holding as fallback",
				"session_id", sess.ID, "status", res.Data.Status)

		case raw := <-busCh:
			if res, ok := c.normalized(sess.ID, ChannelNotify, raw); ok {
				return res, ChannelNotify, nil
			}

		case raw := <-sharedCh:
			if res, ok := c.normalized(sess.ID, ChannelNotify, raw); ok {
				return res, ChannelNotify, nil
			}

		case <-ticker.C:
			if res, ok := c.pollStore(ctx, sess.ID); ok {
				return res, ChannelStore, nil
			}

		case <-deadline.C:
			if fallback != nil {
				c.logger.Info("deadline reached, promoting direct-call fallback", "session_id", sess.ID)
				return fallback, ChannelFallback, nil
			}
			c.metrics.ObserveTimeout()
			return nil, "", fmt.Errorf("%w: session %s", ErrNoResultAvailable, sess.ID)

		case <-ctx.Done():
			return nil, "", fmt.Errorf("reconcile: session %s cancelled: %w", sess.ID, ctx.Err())
		}
	}
}

// pollStore consumes the session's store entry, falling back to the shared
// slot used by uncorrelated webhook deliveries.
func (c *Controller) pollStore(ctx context.Context, sessionID string) (*diagnosis.Result, bool) {
	for _, key := range []string{sessionID, resultstore.DefaultSession} {
		raw, err := c.store.ConsumeResult(ctx, key)
		if err != nil {
			c.logger.Warn("store poll failed", "session_id", sessionID, "key", key, "error", err)
			continue
		}
		if raw == nil {
			continue
		}
		if res, ok := c.normalized(sessionID, ChannelStore, raw); ok {
			return res, true
		}
	}
	return nil, false
}

func (c *Controller) normalized(sessionID string, ch Channel, raw []byte) (*diagnosis.Result, bool) {
	res, err := diagnosis.Normalize(raw, c.clock())
	if err != nil {
		c.metrics.ObserveMalformed(string(ch))
		c.logger.Warn("payload not normalizable", "session_id", sessionID, "channel", ch, "error", err)
		return nil, false
	}
	if !res.HasUsableOutput() {
		c.logger.Warn("payload carries no usable output", "session_id", sessionID, "channel", ch)
		return nil, false
	}
	return res, true
}

func (c *Controller) finish(sess *Session, req *diagnosis.Request, res *diagnosis.Result, ch Channel) {
	if !sess.resolve(res, ch) {
		return
	}
	c.metrics.ObserveResolution(string(ch))
	c.logger.Info("diagnosis resolved",
		"session_id", sess.ID,
		"channel", ch,
		"workflow_run_id", res.WorkflowRunID,
	)

	// Consume the store entry and draft so the next session starts clean.
	cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCleanup()
	if err := c.store.ClearResult(cleanupCtx, sess.ID); err != nil {
		c.logger.Warn("failed to clear consumed result", "session_id", sess.ID, "error", err)
	}
	if err := c.store.DeleteDraft(cleanupCtx, sess.ID); err != nil {
		c.logger.Warn("failed to delete draft", "session_id", sess.ID, "error", err)
	}

	if c.archiver != nil {
		snap := sess.Snapshot()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.archiver.ArchiveResolved(ctx, snap, req); err != nil {
				c.logger.Warn("failed to archive diagnosis", "session_id", sess.ID, "error", err)
			}
		}()
	}
}

// Inject feeds a payload that arrived outside the race goroutine — the
// webhook receiver or the entry-URL consumer — into the session's delivery
// channels. The store write and the bus publish are redundant carriers of
// the same event; the race deduplicates by resolving at most once, and a
// payload arriving after resolution is dropped so it cannot leak into the
// next session.
func (c *Controller) Inject(ctx context.Context, sessionID string, raw []byte) error {
	if sess := c.lookup(sessionID); sess != nil {
		switch sess.State() {
		case StateResolved, StateErrored:
			c.logger.Info("dropping payload for settled session", "session_id", sessionID)
			return nil
		}
	}
	if err := c.store.PutResult(ctx, sessionID, raw); err != nil {
		return err
	}
	c.bus.Publish(sessionID, raw)
	return nil
}

// Restart forcibly returns a session to idle: the durable entries are
// cleared and any in-flight wait is cancelled.
func (c *Controller) Restart(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	sess := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if sess != nil {
		sess.discard()
	}

	var errs []error
	if err := c.store.ClearResult(ctx, sessionID); err != nil {
		errs = append(errs, err)
	}
	if err := c.store.DeleteDraft(ctx, sessionID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Lookup returns the tracked session, or nil.
func (c *Controller) Lookup(sessionID string) *Session {
	return c.lookup(sessionID)
}

// StoredResult peeks the durable store for a not-yet-consumed payload and
// normalizes it, covering page reloads after the waiting request is gone.
func (c *Controller) StoredResult(ctx context.Context, sessionID string) (*diagnosis.Result, error) {
	raw, err := c.store.PeekResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw, err = c.store.PeekResult(ctx, resultstore.DefaultSession)
		if err != nil || raw == nil {
			return nil, err
		}
	}
	res, err := diagnosis.Normalize(raw, c.clock())
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Controller) register(sess *Session) {
	c.mu.Lock()
	prev := c.sessions[sess.ID]
	c.sessions[sess.ID] = sess
	c.mu.Unlock()
	if prev != nil {
		prev.discard()
	}
}

func (c *Controller) lookup(sessionID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[sessionID]
}
