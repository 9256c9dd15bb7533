// Package alerter implements the Run Alerter (C8): a post-failure hook that
// counts recent failures per workflow definition and POSTs a webhook once
// per cool-down window. Grounded on the teacher's run()-loop retry/backoff
// shape, generalized from "retry a step" to "fan out bounded webhook calls".
package alerter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/internal/logger"
	"github.com/fluxline/workflowcore/internal/metrics"
)

// Config mirrors the WORKFLOW_FAILURE_ALERT_* / WORKFLOW_ALERT_WEBHOOK_*
// environment variables in §6.
type Config struct {
	Threshold     int
	WindowMinutes int
	WebhookURL    string
	WebhookToken  string
}

// Payload is the outbound alert body, §6: {"event":"workflow.failure.streak","data":{...}}.
type Payload struct {
	Event string      `json:"event"`
	Data  PayloadData `json:"data"`
}

type PayloadData struct {
	WorkflowDefinitionID string    `json:"workflowDefinitionId"`
	WorkflowRunID        string    `json:"workflowRunId"`
	FailureCount         int       `json:"failureCount"`
	WindowMinutes        int       `json:"windowMinutes"`
	ErrorMessage         string    `json:"errorMessage,omitempty"`
	OccurredAt           time.Time `json:"occurredAt"`
}

// Alerter fans OnFailedTransition calls out to the configured webhook,
// bounded to a small concurrency N and gated by a per-workflow cool-down.
type Alerter struct {
	cfg    Config
	runs   wc.WorkflowRunStore
	client *http.Client
	clock  clock.Clock
	log    logger.Logger

	mu        sync.Mutex
	lastAlert map[string]time.Time

	sem chan struct{}
}

// New builds an Alerter. A nil clk defaults to clock.RealClock{}.
func New(cfg Config, runs wc.WorkflowRunStore, log logger.Logger, clk clock.Clock) *Alerter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Alerter{
		cfg:       cfg,
		runs:      runs,
		client:    &http.Client{Timeout: 5 * time.Second},
		clock:     clk,
		log:       log,
		lastAlert: make(map[string]time.Time),
		sem:       make(chan struct{}, 4),
	}
}

// Enabled reports whether the alerter is configured to fire at all, per §6's
// "threshold ≤ 0 disables" and "empty webhook URL disables" rules.
func (a *Alerter) Enabled() bool {
	return a.cfg.Threshold > 0 && a.cfg.WebhookURL != ""
}

// OnFailedTransition is invoked asynchronously by runstore/pg.Store.Transition
// whenever a run lands on wc.RunFailed. It bounds itself to a concurrency of
// 4 via a semaphore channel so a burst of concurrent failures can't open an
// unbounded number of outbound HTTP connections.
func (a *Alerter) OnFailedTransition(ctx context.Context, run wc.WorkflowRun) {
	if !a.Enabled() {
		return
	}

	a.sem <- struct{}{}
	defer func() { <-a.sem }()

	if err := a.evaluate(ctx, run); err != nil {
		a.log.Error(ctx, logger.Wrap(err, "alerter evaluate", nil))
	}
}

func (a *Alerter) evaluate(ctx context.Context, run wc.WorkflowRun) error {
	count, err := a.runs.CountFailures(ctx, run.WorkflowDefinitionID, a.cfg.WindowMinutes)
	if err != nil {
		return err
	}
	if count < a.cfg.Threshold {
		return nil
	}

	now := a.clock.Now().UTC()
	if !a.shouldAlert(run.WorkflowDefinitionID, now) {
		return nil
	}

	var errMsg string
	if run.ErrorMessage != nil {
		errMsg = *run.ErrorMessage
	}
	payload := Payload{
		Event: "workflow.failure.streak",
		Data: PayloadData{
			WorkflowDefinitionID: run.WorkflowDefinitionID,
			WorkflowRunID:        run.ID,
			FailureCount:         count,
			WindowMinutes:        a.cfg.WindowMinutes,
			ErrorMessage:         errMsg,
			OccurredAt:           now,
		},
	}

	if err := a.send(ctx, payload); err != nil {
		metrics.AlertsSent.WithLabelValues(run.WorkflowDefinitionID, "failed").Inc()
		return logger.Wrap(wc.ErrWebhookFailed, "send alert webhook", nil)
	}
	metrics.AlertsSent.WithLabelValues(run.WorkflowDefinitionID, "sent").Inc()
	a.markAlerted(run.WorkflowDefinitionID, now)
	return nil
}

// shouldAlert reports whether the per-workflow cool-down window has elapsed.
// The in-memory map is deliberately per-process per §4.8/§9 — no cross-
// instance coordination is attempted.
func (a *Alerter) shouldAlert(workflowDefinitionID string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastAlert[workflowDefinitionID]
	if !ok {
		return true
	}
	return now.Sub(last) >= time.Duration(a.cfg.WindowMinutes)*time.Minute
}

func (a *Alerter) markAlerted(workflowDefinitionID string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastAlert[workflowDefinitionID] = now
}

func (a *Alerter) send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.WebhookToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.WebhookToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return wc.ErrWebhookFailed
	}
	return nil
}

// Pool bounds concurrent OnFailedTransition invocations submitted via Submit,
// for deployments that prefer an explicit worker pool over a semaphore per
// call; it wraps the same Alerter and errgroup.SetLimit(4) pattern described
// in §5's "alerter pool bounded to small N".
type Pool struct {
	alerter *Alerter
	group   *errgroup.Group
}

// NewPool binds an errgroup with concurrency 4 to alerter.
func NewPool(ctx context.Context, a *Alerter) (*Pool, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	return &Pool{alerter: a, group: g}, gctx
}

// Submit enqueues a failed-transition alert on the pool; a full pool blocks
// the caller until a slot frees, matching errgroup.Group's Go() semantics.
func (p *Pool) Submit(ctx context.Context, run wc.WorkflowRun) {
	p.group.Go(func() error {
		p.alerter.OnFailedTransition(ctx, run)
		return nil
	})
}

// Wait drains the pool; errors are never returned because OnFailedTransition
// never returns an error (webhook failures are logged and swallowed).
func (p *Pool) Wait() error {
	return p.group.Wait()
}
