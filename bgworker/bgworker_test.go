package bgworker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amp-labs/osf-moderation/shutdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	t.Parallel()

	p := New("test", 2)
	t.Cleanup(p.StopAndWait)

	var counter atomic.Int32

	const numTasks = 10

	tasks := make([]interface{ Wait() error }, numTasks)

	for i := range numTasks {
		tasks[i] = p.Submit(func() {
			counter.Add(1)
		})
	}

	for _, task := range tasks {
		require.NoError(t, task.Wait())
	}

	assert.Equal(t, int32(numTasks), counter.Load())
}

func TestGo(t *testing.T) {
	t.Parallel()

	p := New("test", 0)
	t.Cleanup(p.StopAndWait)

	done := make(chan struct{})

	require.NoError(t, p.Go(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for task")
	}
}

func TestGo_AfterStop(t *testing.T) {
	t.Parallel()

	p := New("test", 1)
	p.StopAndWait()

	assert.Error(t, p.Go(func() {}))
}

func TestStopOnShutdown(t *testing.T) {
	p := New("shutdown", 1).StopOnShutdown()

	var ran atomic.Bool

	require.NoError(t, p.Go(func() {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
	}))

	shutdown.Run(context.Background())

	assert.True(t, ran.Load())
	assert.Error(t, p.Go(func() {}))
}

func TestRunning(t *testing.T) {
	t.Parallel()

	p := New("test", 2)
	t.Cleanup(p.StopAndWait)

	assert.Zero(t, p.Running())

	started := make(chan struct{})
	release := make(chan struct{})

	task := p.Submit(func() {
		close(started)
		<-release
	})

	<-started
	assert.Eventually(t, func() bool { return p.Running() == 1 }, time.Second, time.Millisecond)

	close(release)
	require.NoError(t, task.Wait())
	assert.Eventually(t, func() bool { return p.Running() == 0 }, time.Second, time.Millisecond)
}
