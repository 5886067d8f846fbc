package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.timeout)
	assert.NotNil(t, sm.logger)
}

func TestShutdownManager_Shutdown(t *testing.T) {
	t.Run("runs every function", func(t *testing.T) {
		sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
		var calls int32
		for _, name := range []string{"database", "redis", "tracing"} {
			sm.Register(name, func(context.Context) error {
				atomic.AddInt32(&calls, 1)
				return nil
			})
		}
		sm.Register("ignored", nil)

		require.NoError(t, sm.Shutdown())
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("joins errors", func(t *testing.T) {
		sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
		sm.Register("database", func(context.Context) error { return errors.New("close failed") })
		sm.Register("redis", func(context.Context) error { return nil })

		err := sm.Shutdown()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database: close failed")
	})

	t.Run("times out", func(t *testing.T) {
		sm := NewShutdownManager(NewNopLogger(), nil, 20*time.Millisecond)
		sm.Register("stuck", func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		})

		err := sm.Shutdown()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	})
}

func TestShutdownManager_StopsServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()

	sm := NewShutdownManager(NewNopLogger(), server, time.Second)
	require.NoError(t, sm.Shutdown())

	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}

func TestShutdownManager_WaitForSignalContextDone(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
	var called int32
	sm.Register("database", func(context.Context) error {
		atomic.StoreInt32(&called, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForSignal(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&called))
}
