package sweep

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestAddRejectsBadSchedule(t *testing.T) {
	r := NewRunner(testLog())
	err := r.Add("bad", "not a cron", func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("invalid schedule must be rejected")
	}
	if _, ok := err.(*BadScheduleError); !ok {
		t.Errorf("err = %T, want BadScheduleError", err)
	}
}

func TestTickFiresDueTaskOncePerMinute(t *testing.T) {
	r := NewRunner(testLog())
	var runs int64
	done := make(chan struct{}, 4)
	err := r.Add("every-minute", "* * * * *", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 25, 10, 30, 5, 0, time.UTC)
	r.tick(context.Background(), now)
	<-done
	// Same minute again: deduplicated.
	r.tick(context.Background(), now.Add(20*time.Second))

	// Next minute fires again; retry while the previous run winds down.
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&runs) < 2 {
		select {
		case <-deadline:
			t.Fatal("task did not fire for the next minute")
		default:
		}
		r.tick(context.Background(), now.Add(time.Minute))
		time.Sleep(5 * time.Millisecond)
	}
	<-done

	if got := atomic.LoadInt64(&runs); got != 2 {
		t.Errorf("runs = %d, want exactly 2 (same-minute ticks deduplicated)", got)
	}
}

func TestTickSkipsNotDueTask(t *testing.T) {
	r := NewRunner(testLog())
	var runs int64
	err := r.Add("daily", "0 3 * * *", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	r.tick(context.Background(), time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC))
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt64(&runs); got != 0 {
		t.Errorf("runs = %d, want 0 outside schedule", got)
	}
}
