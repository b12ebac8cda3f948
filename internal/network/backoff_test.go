package network

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/scpd/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestNextBackoffDelay(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		require.Equal(t, w*time.Millisecond, NextBackoffDelay(cfg, i+1), "attempt %d", i+1)
	}
	require.Zero(t, NextBackoffDelay(BackoffConfig{}, 3))
	require.Equal(t, 10*time.Millisecond, NextBackoffDelay(BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 0.5}, 4))
}

// failingListener fails every Accept until closed.
type failingListener struct {
	accepts atomic.Int32
	closed  atomic.Bool
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.accepts.Add(1)
	if l.closed.Load() {
		return nil, net.ErrClosed
	}
	return nil, errors.New("accept: too many open files")
}

func (l *failingListener) Close() error {
	l.closed.Store(true)
	return nil
}

func (l *failingListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

func TestAcceptLoopBacksOffOnPersistentErrors(t *testing.T) {
	testlog.Start(t)
	ln := &failingListener{}
	pl := &portListener{
		key:   "127.0.0.1:0",
		ln:    ln,
		apps:  map[string]*application{},
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
	pl.wg.Add(1)
	go pl.acceptLoop()

	time.Sleep(100 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		pl.close()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("accept loop did not stop after close")
	}

	// 5ms doubling reaches 100ms after about five attempts
	got := ln.accepts.Load()
	require.GreaterOrEqual(t, got, int32(2))
	require.LessOrEqual(t, got, int32(10))
}
