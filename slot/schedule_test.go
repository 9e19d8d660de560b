package slot

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
)

func TestSchedule_Fires(t *testing.T) {
	defer leaktest.Check(t)()

	s := NewSchedule("round-1", log.TestingLogger())
	defer s.Dispose()

	fired := make(chan string, 2)
	require.True(t, s.After("mine", 10*time.Millisecond, func(ctx context.Context) { fired <- "mine" }))
	// 已经过去的时间立即执行
	require.True(t, s.At("late", time.Now().Add(-time.Second), func(ctx context.Context) { fired <- "late" }))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-fired:
			got[name] = true
		case <-time.After(time.Second):
			t.Fatal("action did not fire")
		}
	}
	assert.True(t, got["mine"])
	assert.True(t, got["late"])
	assert.Empty(t, s.Pending())
}

func TestSchedule_Dispose(t *testing.T) {
	defer leaktest.Check(t)()

	s := NewSchedule("round-2", log.TestingLogger())
	var fired int32
	s.After("backup", 20*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&fired, 1) })
	assert.Equal(t, []string{"backup"}, s.Pending())

	s.Dispose()
	s.Dispose()
	assert.True(t, s.Disposed())
	assert.Error(t, s.Context().Err())
	assert.False(t, s.After("again", 0, func(ctx context.Context) { atomic.AddInt32(&fired, 1) }))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestSchedule_ReplaceAndCancel(t *testing.T) {
	defer leaktest.Check(t)()

	s := NewSchedule("round-3", log.TestingLogger())
	defer s.Dispose()

	var first, second int32
	s.After("slot", 10*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&first, 1) })
	s.After("slot", 20*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&second, 1) })
	s.After("cancelled", 10*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&first, 1) })
	assert.True(t, s.Cancel("cancelled"))
	assert.False(t, s.Cancel("unknown"))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestSchedule_RunningActionSeesCancel(t *testing.T) {
	defer leaktest.Check(t)()

	s := NewSchedule("round-4", log.TestingLogger())
	started := make(chan struct{})
	done := make(chan error, 1)
	s.After("long", 0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		done <- ctx.Err()
	})

	<-started
	s.Dispose()
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("running action was not cancelled")
	}
}
