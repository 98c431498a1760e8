package worker

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omnifin/finsight/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", ""); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type countingWorker struct {
	runs int64
	err  error
}

func (w *countingWorker) Name() string { return "counting" }

func (w *countingWorker) Run(_ context.Context) error {
	atomic.AddInt64(&w.runs, 1)
	return w.err
}

func (w *countingWorker) count() int64 {
	return atomic.LoadInt64(&w.runs)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestGroup_RunsImmediately(t *testing.T) {
	group := NewGroup(context.Background())
	w := &countingWorker{}
	group.Add(w, time.Hour)
	group.Start()
	defer group.Stop(time.Second)

	waitFor(t, func() bool { return w.count() > 0 }, "worker did not run on start")
}

func TestGroup_TicksOnInterval(t *testing.T) {
	group := NewGroup(context.Background())
	w := &countingWorker{}
	group.Add(w, 20*time.Millisecond)
	group.Start()
	defer group.Stop(time.Second)

	waitFor(t, func() bool { return w.count() >= 3 }, "worker did not tick")
}

func TestGroup_SurvivesErrors(t *testing.T) {
	group := NewGroup(context.Background())
	w := &countingWorker{err: errors.New("transient")}
	group.Add(w, 20*time.Millisecond)
	group.Start()
	defer group.Stop(time.Second)

	waitFor(t, func() bool { return w.count() >= 2 },
		"a failing iteration must not stop the worker")
}

func TestGroup_StopsAll(t *testing.T) {
	group := NewGroup(context.Background())

	w1 := &countingWorker{}
	w2 := &countingWorker{}
	group.Add(w1, time.Hour)
	group.Add(w2, time.Hour)
	group.Start()

	waitFor(t, func() bool { return w1.count() > 0 && w2.count() > 0 },
		"group workers did not start")

	group.Stop(time.Second)

	before1, before2 := w1.count(), w2.count()
	time.Sleep(50 * time.Millisecond)
	if w1.count() != before1 || w2.count() != before2 {
		t.Error("workers must not run after group stop")
	}
}

func TestGroup_AddAfterStartIgnored(t *testing.T) {
	group := NewGroup(context.Background())
	group.Start()
	defer group.Stop(time.Second)

	w := &countingWorker{}
	group.Add(w, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if w.count() != 0 {
		t.Error("worker added after start must not run")
	}
}
