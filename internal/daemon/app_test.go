// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeRunner struct {
	started chan struct{}
	err     error
}

func (r *fakeRunner) Run(ctx context.Context) error {
	close(r.started)
	<-ctx.Done()
	return r.err
}

func noopHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewRequiresEngineAndHandler(t *testing.T) {
	_, err := New(Options{Handler: noopHandler()})
	require.Error(t, err)

	_, err = New(Options{Engine: &fakeRunner{started: make(chan struct{})}})
	require.Error(t, err)
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{started: make(chan struct{})}
	app, err := New(Options{
		Listen:          "127.0.0.1:0",
		Handler:         noopHandler(),
		Engine:          runner,
		ShutdownTimeout: time.Second,
	})
	require.NoError(t, err)

	var order []string
	app.RegisterShutdownHook("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	app.RegisterShutdownHook("second", func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never started")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}

	// Hooks ran in reverse registration order.
	require.Equal(t, []string{"second", "first"}, order)
}

func TestRunPropagatesEngineFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("scheduler wedged")
	runner := &failingRunner{err: boom}
	app, err := New(Options{
		Listen:          "127.0.0.1:0",
		Handler:         noopHandler(),
		Engine:          runner,
		ShutdownTimeout: time.Second,
	})
	require.NoError(t, err)

	var hookRan atomic.Bool
	app.RegisterShutdownHook("cleanup", func(context.Context) error {
		hookRan.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = app.Run(ctx)
	require.ErrorIs(t, err, boom)
	require.True(t, hookRan.Load())
}

type failingRunner struct{ err error }

func (r *failingRunner) Run(context.Context) error { return r.err }

func TestReloadNowInvokesCallback(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{})}
	var reloaded atomic.Int32
	app, err := New(Options{
		Listen:   "127.0.0.1:0",
		Handler:  noopHandler(),
		Engine:   runner,
		OnReload: func() { reloaded.Add(1) },
	})
	require.NoError(t, err)

	app.reloadNow()
	app.reloadNow()
	require.EqualValues(t, 2, reloaded.Load())
}
