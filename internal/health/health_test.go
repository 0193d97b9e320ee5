package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestRegistryEmpty(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRegistryCriticalFailure(t *testing.T) {
	r := NewRegistry()
	r.Register("model", func(context.Context) Status { return Status{Healthy: true} })
	r.Register("postgres", PingChecker("postgres", pingFunc(func(context.Context) error {
		return errors.New("connection refused")
	})))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "model", statuses[0].Name, "empty names take the registered name")
	assert.Equal(t, "connection refused", statuses[1].Detail)
	assert.True(t, statuses[1].Critical)
}

func TestRegistryOptionalFailureStaysHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("model", func(context.Context) Status { return Status{Name: "model", Healthy: true} })
	r.RegisterOptional("redis", func(context.Context) Status {
		return Status{Name: "redis", Detail: "circuit open"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[1].Healthy)
	assert.False(t, statuses[1].Critical)
}

func TestRegistryTimeout(t *testing.T) {
	r := NewRegistry()
	r.SetTimeout(20 * time.Millisecond)
	r.Register("slow", PingChecker("slow", pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})))

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Contains(t, statuses[0].Detail, "deadline")
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("c", func(context.Context) Status { return Status{Healthy: true} })
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Len(t, statuses, 20)
}
