package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planguard/internal/metrics"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var _ io.Closer = closerFunc(nil)

func TestNewServer(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.NotNil(t, srv.Validator)
	assert.Equal(t, metrics.Nop{}, srv.Metrics)
	assert.NotNil(t, srv.Handler())
	assert.Same(t, srv.Router(), srv.Handler())
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, slog.Default())
	assert.Error(t, err)

	_, err = NewServer(testConfig(), nil)
	assert.Error(t, err)
}

func TestShutdown_ClosesEverything(t *testing.T) {
	srv, _ := newTestServer(t)

	var order []string
	srv.Closers = []io.Closer{
		closerFunc(func() error { order = append(order, "pool"); return nil }),
		closerFunc(func() error { order = append(order, "redis"); return errors.New("already closed") }),
		closerFunc(func() error { order = append(order, "metrics"); return nil }),
	}

	err := srv.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already closed")
	assert.Equal(t, []string{"pool", "redis", "metrics"}, order)
}

func TestShutdown_NoClosers(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.NoError(t, srv.Shutdown(context.Background()))
}
