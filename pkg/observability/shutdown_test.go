package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsHooksInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)

	var order []string
	for _, name := range []string{"database", "cache", "directory"} {
		name := name
		sm.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"directory", "cache", "database"}, order)
}

func TestShutdownManager_ContinuesAfterFailure(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)

	ran := false
	sm.Register("database", func(ctx context.Context) error {
		ran = true
		return nil
	})
	sm.Register("cache", func(ctx context.Context) error {
		return errors.New("redis gone")
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache: redis gone")
	assert.True(t, ran)
}

func TestShutdownManager_StopsServer(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(nil, server, time.Second)
	assert.NoError(t, sm.Shutdown())
}

func TestShutdownManager_WaitForShutdown(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)
	called := make(chan struct{}, 1)
	sm.Register("hook", func(ctx context.Context) error {
		called <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.WaitForShutdown(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
	assert.Len(t, called, 1)
}

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
}
