package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSupervisorRestartsOnError(t *testing.T) {
	sup := NewSupervisor(SupervisorPolicy{InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})

	var attempts atomic.Int32
	ready := make(chan struct{})
	err := sup.Start("flaky", RestartOnError, func(ctx context.Context) error {
		if attempts.Add(1) <= 2 {
			return errors.New("boom")
		}
		close(ready)
		<-ctx.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("task never recovered")
	}
	sup.Stop("flaky")

	children := sup.Children()
	if len(children) != 1 || children[0].RestartCount != 2 || children[0].GaveUp {
		t.Fatalf("children = %+v", children)
	}
}

func TestSupervisorNeverPolicyRunsOnce(t *testing.T) {
	sup := NewSupervisor(SupervisorPolicy{})

	var runs atomic.Int32
	if err := sup.Start("once", RestartNever, func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "task exit", func() bool { return len(sup.Tasks()) == 0 })
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d", got)
	}
}

func TestSupervisorGivesUpAfterMaxRestarts(t *testing.T) {
	sup := NewSupervisor(SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MaxRestarts:    2,
	})

	if err := sup.Start("doomed", RestartOnError, func(context.Context) error {
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "give-up", func() bool {
		children := sup.Children()
		return len(children) == 1 && children[0].GaveUp
	})
	if children := sup.Children(); children[0].RestartCount != 2 || children[0].LastError == "" {
		t.Fatalf("children = %+v", children)
	}
}

func TestSupervisorRejectsDuplicateName(t *testing.T) {
	sup := NewSupervisor(SupervisorPolicy{})
	defer sup.StopAll()

	run := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}
	if err := sup.Start("task", RestartAlways, run); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Start("task", RestartAlways, run); err == nil {
		t.Fatal("duplicate name should fail")
	}
	if got := sup.Tasks(); len(got) != 1 || got[0] != "task" {
		t.Fatalf("tasks = %v", got)
	}
}

func TestSupervisorStopAllWaits(t *testing.T) {
	sup := NewSupervisor(SupervisorPolicy{})

	var exited atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		if err := sup.Start(name, RestartAlways, func(ctx context.Context) error {
			<-ctx.Done()
			exited.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("start %s: %v", name, err)
		}
	}

	sup.StopAll()
	if got := exited.Load(); got != 3 {
		t.Fatalf("exited = %d", got)
	}
	if len(sup.Tasks()) != 0 {
		t.Fatalf("tasks = %v", sup.Tasks())
	}
}
