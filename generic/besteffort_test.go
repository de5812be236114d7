package generic_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/slot-admin/generic"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) Printf(format string, v ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, v...))
}

func (c *captureLogger) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func TestBestEffort_Do_LogsAndSwallowsError(t *testing.T) {
	logger := &captureLogger{}
	be := generic.NewBestEffort(logger)

	ok := be.Do(context.Background(), "audit", func(context.Context) error {
		return errors.New("audit table missing")
	})

	assert.False(t, ok)
	assert.Contains(t, logger.joined(), `"event":"best_effort_failed"`)
	assert.Contains(t, logger.joined(), "audit table missing")
}

func TestBestEffort_Do_RecoversPanic(t *testing.T) {
	logger := &captureLogger{}
	be := generic.NewBestEffort(logger)

	ok := be.Do(context.Background(), "notify", func(context.Context) error {
		panic("nil map")
	})

	assert.False(t, ok)
	assert.Contains(t, logger.joined(), "notify panicked")
}

func TestBestEffort_Go_SurvivesCallerCancellation(t *testing.T) {
	// GIVEN: A background task started from a request context
	// WHEN: The request context is cancelled before the task runs
	// THEN: The task still sees a live context and completes

	be := generic.NewBestEffort(nil)
	ctx, cancel := context.WithCancel(context.Background())

	var ran bool
	var ctxErr error
	release := make(chan struct{})
	be.Go(ctx, "participant", func(ctx context.Context) error {
		<-release
		ran = true
		ctxErr = ctx.Err()
		return nil
	})
	cancel()
	close(release)
	be.Wait()

	require.True(t, ran)
	assert.NoError(t, ctxErr)
}

func TestErrors_Taxonomy(t *testing.T) {
	ap := &generic.AlreadyProcessedError{Kind: "withdrawal", ID: "w1", Status: "approved"}
	assert.ErrorIs(t, ap, generic.ErrAlreadyProcessed)
	assert.True(t, generic.IsClientError(ap))
	assert.Equal(t, "withdrawal w1 already approved", ap.Error())

	nf := &generic.NotFoundError{Kind: "room", ID: "r1"}
	assert.True(t, generic.IsNotFound(nf))
	assert.False(t, generic.IsClientError(nf))

	remote := generic.RemoteIO("insert message", errors.New("EOF"))
	assert.ErrorIs(t, remote, generic.ErrRemoteIO)
	assert.Same(t, ap, generic.RemoteIO("x", ap), "domain errors pass through unwrapped")
	assert.NoError(t, generic.RemoteIO("x", nil))

	v := generic.NewValidationError("room", "closed").WithCause(generic.ErrRoomNotActive)
	assert.ErrorIs(t, v, generic.ErrValidation)
	assert.ErrorIs(t, v, generic.ErrRoomNotActive)
	assert.NotErrorIs(t, v, generic.ErrInvalidAmount)
}
