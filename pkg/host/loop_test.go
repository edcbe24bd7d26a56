package host

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMainLoop_RunsHooks(t *testing.T) {
	loop := NewMainLoop(time.Millisecond)
	var calls atomic.Int64
	unregister, err := loop.OnTick(func() { calls.Add(1) })
	if err != nil {
		t.Fatalf("host:loop_test - OnTick: %v", err)
	}
	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("host:loop_test - Start: %v", err)
	}
	defer loop.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if calls.Load() < 3 {
		t.Fatalf("host:loop_test - hook ran %d times", calls.Load())
	}

	unregister()
	time.Sleep(10 * time.Millisecond)
	before := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != before {
		t.Error("host:loop_test - hook still running after unregister")
	}
}

func TestMainLoop_Wake(t *testing.T) {
	loop := NewMainLoop(time.Hour)
	ran := make(chan struct{}, 1)
	_, _ = loop.OnTick(func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	_ = loop.Start(context.Background())
	defer loop.Stop()

	loop.Wake()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("host:loop_test - Wake did not trigger a tick")
	}
}

func TestMainLoop_PanickingHookDoesNotStopLoop(t *testing.T) {
	loop := NewMainLoop(time.Millisecond)
	_, _ = loop.OnTick(func() { panic("boom") })
	_ = loop.Start(context.Background())
	defer loop.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for loop.Ticks() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if loop.Ticks() < 3 {
		t.Fatalf("host:loop_test - loop stalled after panic, ticks=%d", loop.Ticks())
	}
}

func TestMainLoop_StopRejectsHooks(t *testing.T) {
	loop := NewMainLoop(time.Millisecond)
	_ = loop.Start(context.Background())
	loop.Stop()
	loop.Stop()

	if _, err := loop.OnTick(func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("host:loop_test - expected ErrLoopStopped, got %v", err)
	}
	if err := loop.Start(context.Background()); err == nil {
		t.Error("host:loop_test - second Start must fail")
	}
}

func TestAvailability(t *testing.T) {
	a := NewAvailability("5.4.0", SubsystemGraph, SubsystemAsset)
	if !a.SubsystemReady(SubsystemGraph) || a.SubsystemReady(SubsystemProcedural) {
		t.Errorf("host:loop_test - unexpected readiness %v", a.Snapshot())
	}
	a.SetReady(SubsystemGraph, false)
	a.SetVersion("5.5.0")
	if a.SubsystemReady(SubsystemGraph) || a.Version() != "5.5.0" {
		t.Errorf("host:loop_test - updates not applied: %v %s", a.Snapshot(), a.Version())
	}
	if got := a.Ready(); len(got) != 1 || got[0] != SubsystemAsset {
		t.Errorf("host:loop_test - Ready = %v", got)
	}
}
