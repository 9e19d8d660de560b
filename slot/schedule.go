package slot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tendermint/tendermint/libs/log"
)

// Action 定时任务，ctx在Schedule被Dispose后取消
type Action func(ctx context.Context)

// Schedule 一轮共识内的定时任务集合
// 轮次切换或者共识停止时整体Dispose，已经开始执行的任务不会被等待
type Schedule struct {
	mtx      sync.Mutex
	name     string
	ctx      context.Context
	cancel   context.CancelFunc
	timers   map[string]*time.Timer
	disposed bool

	now    func() time.Time
	logger log.Logger
}

type ScheduleOption func(*Schedule)

// WithClock 替换当前时间，用于测试
func WithClock(now func() time.Time) ScheduleOption {
	return func(s *Schedule) {
		s.now = now
	}
}

func NewSchedule(name string, logger log.Logger, options ...ScheduleOption) *Schedule {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Schedule{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[string]*time.Timer),
		now:    time.Now,
		logger: logger,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// At 在t时刻执行fn，t已经过去时立即执行
// 同名的任务会被替换；Schedule已经Dispose时返回false
func (s *Schedule) At(name string, t time.Time, fn Action) bool {
	return s.After(name, t.Sub(s.now()), fn)
}

// After 在d之后执行fn
func (s *Schedule) After(name string, d time.Duration, fn Action) bool {
	if d < 0 {
		d = 0
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.disposed {
		return false
	}
	if old, ok := s.timers[name]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mtx.Lock()
		// 已经被替换或者取消
		if s.disposed || s.timers[name] != timer {
			s.mtx.Unlock()
			return
		}
		delete(s.timers, name)
		ctx := s.ctx
		s.mtx.Unlock()

		s.logger.Debug("schedule fired", "schedule", s.name, "action", name)
		fn(ctx)
	})
	s.timers[name] = timer
	s.logger.Debug("scheduled", "schedule", s.name, "action", name, "after", d)
	return true
}

// Cancel 取消还没有执行的任务
func (s *Schedule) Cancel(name string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	timer, ok := s.timers[name]
	if !ok {
		return false
	}
	delete(s.timers, name)
	return timer.Stop()
}

// Dispose 停止所有定时器并取消ctx，可以重复调用
func (s *Schedule) Dispose() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.disposed {
		return
	}
	s.disposed = true
	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}
	s.cancel()
	s.logger.Debug("schedule disposed", "schedule", s.name)
}

func (s *Schedule) Disposed() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.disposed
}

func (s *Schedule) Context() context.Context {
	return s.ctx
}

func (s *Schedule) Name() string {
	return s.name
}

// Pending 还没有执行的任务名
func (s *Schedule) Pending() []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
