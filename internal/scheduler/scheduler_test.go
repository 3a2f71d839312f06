package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{" 2D ", 48 * time.Hour, true},
		{"", 0, false},
		{"d", 0, false},
		{"0h", 0, false},
		{"-1h", 0, false},
		{"10x", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseIntervalDuration(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIntervalSchedulerRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewIntervalScheduler(ctx, time.Hour)
	s.RunImmediately = true

	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Start(func() {
			runs.Add(1)
			cancel()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("调度器未随 ctx 取消退出")
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestIntervalSchedulerTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewIntervalScheduler(ctx, 10*time.Millisecond)

	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Start(func() {
			if runs.Add(1) >= 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("调度器未按间隔触发")
	}
	require.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestIntervalSchedulerInvalidInterval(t *testing.T) {
	s := NewIntervalScheduler(context.Background(), 0)
	// 非法间隔直接返回，不阻塞
	s.Start(func() { t.Fatal("不应被调用") })
}
