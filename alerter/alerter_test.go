package alerter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luno/jettison/j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/alerter"
	"github.com/fluxline/workflowcore/internal/logger"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, j.MKV) {}
func (nopLogger) Info(context.Context, string, j.MKV)   {}
func (nopLogger) Error(context.Context, error)          {}

// fakeRunStore implements wc.WorkflowRunStore with a fixed failure count.
type fakeRunStore struct {
	failureCount int
}

func (f *fakeRunStore) CreateRun(context.Context, string, wc.CreateRunInput) (wc.WorkflowRun, error) {
	return wc.WorkflowRun{}, nil
}
func (f *fakeRunStore) Transition(context.Context, string, wc.RunStatus, wc.TransitionPatch) (wc.WorkflowRun, error) {
	return wc.WorkflowRun{}, nil
}
func (f *fakeRunStore) GetRun(context.Context, string) (wc.WorkflowRun, error) {
	return wc.WorkflowRun{}, nil
}
func (f *fakeRunStore) ListRunsByDefinition(context.Context, string, wc.RunStatus, time.Time, int) ([]wc.WorkflowRun, error) {
	return nil, nil
}
func (f *fakeRunStore) CountFailures(context.Context, string, int) (int, error) {
	return f.failureCount, nil
}

var _ wc.WorkflowRunStore = (*fakeRunStore)(nil)

func TestOnFailedTransition_BelowThresholdDoesNotPost(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
	}))
	defer srv.Close()

	runs := &fakeRunStore{failureCount: 2}
	a := alerter.New(alerter.Config{Threshold: 3, WindowMinutes: 15, WebhookURL: srv.URL}, runs, nopLogger{}, nil)

	a.OnFailedTransition(context.Background(), wc.WorkflowRun{ID: "run-1", WorkflowDefinitionID: "def-1"})
	assert.Equal(t, int32(0), atomic.LoadInt32(&posts))
}

func TestOnFailedTransition_AtThresholdPosts(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runs := &fakeRunStore{failureCount: 3}
	a := alerter.New(alerter.Config{
		Threshold: 3, WindowMinutes: 15, WebhookURL: srv.URL, WebhookToken: "tok",
	}, runs, nopLogger{}, nil)

	a.OnFailedTransition(context.Background(), wc.WorkflowRun{ID: "run-1", WorkflowDefinitionID: "def-1"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
}

func TestOnFailedTransition_CooldownSuppressesRepeatAlerts(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runs := &fakeRunStore{failureCount: 5}
	clk := clocktesting.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := alerter.New(alerter.Config{Threshold: 3, WindowMinutes: 15, WebhookURL: srv.URL}, runs, nopLogger{}, clk)

	run := wc.WorkflowRun{ID: "run-1", WorkflowDefinitionID: "def-1"}
	a.OnFailedTransition(context.Background(), run)
	a.OnFailedTransition(context.Background(), run)
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))

	clk.SetTime(clk.Now().Add(16 * time.Minute))
	a.OnFailedTransition(context.Background(), run)
	assert.Equal(t, int32(2), atomic.LoadInt32(&posts))
}

func TestOnFailedTransition_DisabledWhenThresholdOrURLMissing(t *testing.T) {
	runs := &fakeRunStore{failureCount: 10}

	a := alerter.New(alerter.Config{Threshold: 0, WebhookURL: "http://example.invalid"}, runs, nopLogger{}, nil)
	assert.False(t, a.Enabled())

	a = alerter.New(alerter.Config{Threshold: 3, WebhookURL: ""}, runs, nopLogger{}, nil)
	assert.False(t, a.Enabled())
}

func TestOnFailedTransition_WebhookFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	runs := &fakeRunStore{failureCount: 3}
	a := alerter.New(alerter.Config{Threshold: 3, WindowMinutes: 15, WebhookURL: srv.URL}, runs, nopLogger{}, nil)

	assert.NotPanics(t, func() {
		a.OnFailedTransition(context.Background(), wc.WorkflowRun{ID: "run-1", WorkflowDefinitionID: "def-1"})
	})
}

func TestPool_SubmitAndWait(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runs := &fakeRunStore{failureCount: 3}
	a := alerter.New(alerter.Config{Threshold: 3, WindowMinutes: 15, WebhookURL: srv.URL}, runs, nopLogger{}, nil)

	pool, ctx := alerter.NewPool(context.Background(), a)
	for i := 0; i < 3; i++ {
		pool.Submit(ctx, wc.WorkflowRun{ID: "run-1", WorkflowDefinitionID: "def-1"})
	}
	require.NoError(t, pool.Wait())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&posts), int32(1))
}

var _ logger.Logger = nopLogger{}
