package job

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"tenant-service/pkg/config"
	"tenant-service/pkg/logger"
	"tenant-service/pkg/tenantctx"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

func TestTenantFromMetadata(t *testing.T) {
	id := uuid.New()

	t.Run("top-level string", func(t *testing.T) {
		got, ok := TenantFromMetadata(Metadata{"tenant_id": id.String()})
		require.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("top-level uuid value", func(t *testing.T) {
		got, ok := TenantFromMetadata(Metadata{"tenant_id": id})
		require.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("nested under metadata", func(t *testing.T) {
		md := Metadata{"metadata": map[string]interface{}{"tenant_id": id.String()}}
		got, ok := TenantFromMetadata(md)
		require.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("absent is not an error", func(t *testing.T) {
		_, ok := TenantFromMetadata(Metadata{"user_id": "someone"})
		assert.False(t, ok)
		_, ok = TenantFromMetadata(nil)
		assert.False(t, ok)
	})

	t.Run("malformed values are ignored", func(t *testing.T) {
		_, ok := TenantFromMetadata(Metadata{"tenant_id": "not-a-uuid"})
		assert.False(t, ok)
		_, ok = TenantFromMetadata(Metadata{"tenant_id": 42})
		assert.False(t, ok)
		_, ok = TenantFromMetadata(Metadata{"metadata": "not-a-map"})
		assert.False(t, ok)
	})
}

func TestWithTenantContext(t *testing.T) {
	id := uuid.New()

	t.Run("installs tenant for the job extent", func(t *testing.T) {
		var seen tenantctx.Value
		fn := WithTenantContext(func(ctx context.Context, _ Metadata) error {
			seen = tenantctx.From(ctx)
			return nil
		})

		require.NoError(t, fn(context.Background(), Metadata{"tenant_id": id.String()}))
		got, ok := seen.TenantID()
		require.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("missing tenant runs unset", func(t *testing.T) {
		var seen tenantctx.Value
		fn := WithTenantContext(func(ctx context.Context, _ Metadata) error {
			seen = tenantctx.From(ctx)
			return nil
		})

		require.NoError(t, fn(context.Background(), Metadata{}))
		assert.Equal(t, tenantctx.KindUnset, seen.Kind())
	})

	t.Run("scope does not outlive the job", func(t *testing.T) {
		base := context.Background()
		fn := WithTenantContext(func(ctx context.Context, _ Metadata) error {
			return errors.New("job failed")
		})
		_ = fn(base, Metadata{"tenant_id": id.String()})

		assert.Equal(t, tenantctx.KindUnset, tenantctx.From(base).Kind())
	})
}

func TestWithAdminContext(t *testing.T) {
	var seen tenantctx.Value
	fn := WithAdminContext(func(ctx context.Context, _ Metadata) error {
		seen = tenantctx.From(ctx)
		return nil
	})

	require.NoError(t, fn(context.Background(), Metadata{"job": "nightly-report"}))
	assert.Equal(t, tenantctx.KindBypass, seen.Kind())
	assert.Equal(t, tenantctx.BypassSentinel, seen.Setting())
}

func testDispatcher(workers int) *Dispatcher {
	cfg := &config.Config{}
	cfg.Job.Workers = workers
	cfg.Job.QueueSize = 8
	return NewDispatcher(cfg)
}

func TestDispatcher(t *testing.T) {
	t.Run("runs enqueued jobs with hydrated context", func(t *testing.T) {
		d := testDispatcher(2)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		d.Start(ctx)

		id := uuid.New()
		var mu sync.Mutex
		var seen []tenantctx.Value
		done := make(chan struct{})

		err := d.Enqueue("sync-items", Metadata{"tenant_id": id.String()}, func(ctx context.Context, _ Metadata) error {
			mu.Lock()
			seen = append(seen, tenantctx.From(ctx))
			mu.Unlock()
			close(done)
			return nil
		})
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
		d.Stop()

		require.Len(t, seen, 1)
		got, ok := seen[0].TenantID()
		require.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("tenant scope does not leak between jobs on one worker", func(t *testing.T) {
		d := testDispatcher(1)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		d.Start(ctx)

		id := uuid.New()
		results := make(chan tenantctx.Value, 2)

		require.NoError(t, d.Enqueue("job-a", Metadata{"tenant_id": id.String()}, func(ctx context.Context, _ Metadata) error {
			results <- tenantctx.From(ctx)
			return nil
		}))
		require.NoError(t, d.Enqueue("job-b", Metadata{}, func(ctx context.Context, _ Metadata) error {
			results <- tenantctx.From(ctx)
			return nil
		}))
		d.Stop()

		first := <-results
		second := <-results
		_, ok := first.TenantID()
		assert.True(t, ok)
		assert.Equal(t, tenantctx.KindUnset, second.Kind())
	})

	t.Run("panicking job does not kill the worker", func(t *testing.T) {
		d := testDispatcher(1)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		d.Start(ctx)

		ran := make(chan struct{})
		require.NoError(t, d.Enqueue("bad-job", Metadata{}, func(context.Context, Metadata) error {
			panic("boom")
		}))
		require.NoError(t, d.Enqueue("good-job", Metadata{}, func(context.Context, Metadata) error {
			close(ran)
			return nil
		}))

		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("worker died after panic")
		}
		d.Stop()
	})

	t.Run("full queue is reported", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Job.Workers = 1
		cfg.Job.QueueSize = 1
		d := NewDispatcher(cfg)
		// Not started: the queue only drains when workers run.

		block := func(context.Context, Metadata) error { return nil }
		require.NoError(t, d.Enqueue("first", Metadata{}, block))
		err := d.Enqueue("second", Metadata{}, block)
		assert.ErrorIs(t, err, ErrQueueFull)
	})
}
