package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckerAggregates(t *testing.T) {
	c := NewChecker(nil, time.Minute)
	var dbDown atomic.Bool
	dbDown.Store(true)
	c.RegisterDatabaseCheck(func(context.Context) error {
		if dbDown.Load() {
			return errors.New("connection refused")
		}
		return nil
	})
	c.RegisterRedisCheck(func(context.Context) error { return errors.New("no redis") })
	c.RegisterBreakerCheck("llm", func() []string { return []string{"openai", "anthropic"} })

	c.RunChecks(context.Background())
	status := c.GetStatus()
	assert.Equal(t, StatusDown, status["database"].Status)
	assert.True(t, status["database"].Critical)
	assert.Equal(t, "connection refused", status["database"].Error)
	assert.Equal(t, StatusDegraded, status["redis"].Status)
	assert.Equal(t, "Circuit open for anthropic, openai", status["llm"].Description)
	assert.Equal(t, StatusUp, status["self"].Status)
	assert.Equal(t, StatusDown, c.Overall())
	assert.False(t, c.IsSystemHealthy())

	dbDown.Store(false)
	c.RunChecks(context.Background())
	assert.Equal(t, StatusDegraded, c.Overall())
	assert.True(t, c.IsSystemHealthy(), "degraded components are not critical")
}

func TestUnchecked(t *testing.T) {
	c := NewChecker(nil, time.Minute)
	c.RegisterDatabaseCheck(func(context.Context) error { return nil })
	assert.False(t, c.IsSystemHealthy(), "critical components start down")
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker(nil, time.Minute)
	c.timeout = 10 * time.Millisecond
	c.RegisterDatabaseCheck(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	c.RunChecks(context.Background())
	assert.Equal(t, StatusDown, c.GetStatus()["database"].Status)
}

func TestOnUpdate(t *testing.T) {
	c := NewChecker(nil, time.Minute)
	var rounds atomic.Int32
	c.OnUpdate(func() { rounds.Add(1) })

	c.RunChecks(context.Background())
	c.RunChecks(context.Background())
	assert.Equal(t, int32(2), rounds.Load())
}

func TestStartStopsWithContext(t *testing.T) {
	c := NewChecker(nil, 5*time.Millisecond)
	var rounds atomic.Int32
	c.OnUpdate(func() { rounds.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	assert.Eventually(t, func() bool { return rounds.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
}
