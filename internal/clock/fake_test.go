package clock

import (
	"testing"
	"time"
)

var start = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func TestFakeNowStandsStill(t *testing.T) {
	c := Fake(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Now = %v", c.Now())
	}
	c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Errorf("Now after advance = %v, want %v", c.Now(), want)
	}
}

func TestAfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := Fake(start)
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "late") })
	c.AfterFunc(time.Second, func() { order = append(order, "early") })
	c.Advance(5 * time.Second)
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Errorf("fire order = %v", order)
	}
}

func TestAfterFuncStop(t *testing.T) {
	c := Fake(start)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Error("Stop on an armed timer should report true")
	}
	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending = %d", c.PendingCount())
	}
}

func TestAfterFuncReset(t *testing.T) {
	c := Fake(start)
	count := 0
	timer := c.AfterFunc(time.Second, func() { count++ })
	timer.Reset(10 * time.Second)
	c.Advance(time.Second)
	if count != 0 {
		t.Fatal("reset should postpone the deadline")
	}
	c.Advance(9 * time.Second)
	if count != 1 {
		t.Fatalf("count = %d after deadline", count)
	}
	// Resetting a fired timer re-arms it.
	if timer.Reset(time.Second) {
		t.Error("Reset on a fired timer should report false")
	}
	c.Advance(time.Second)
	if count != 2 {
		t.Errorf("count = %d after re-arm", count)
	}
}

func TestTimersArmedInCallbacksUseAdvancedTime(t *testing.T) {
	c := Fake(start)
	inner := 0
	c.AfterFunc(time.Second, func() {
		c.AfterFunc(time.Second, func() { inner++ })
	})
	c.Advance(10 * time.Second)
	if inner != 0 {
		t.Fatal("timer armed during a callback fired within the same advance")
	}
	c.Advance(time.Second)
	if inner != 1 {
		t.Fatalf("inner = %d after its own deadline", inner)
	}
}

func TestTickerRepeats(t *testing.T) {
	c := Fake(start)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	c.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("no tick after one interval")
	}
	c.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not reschedule")
	}
	ticker.Stop()
	c.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("tick after Stop")
	default:
	}
}

func TestAfterDelivers(t *testing.T) {
	c := Fake(start)
	ch := c.After(2 * time.Second)
	select {
	case <-ch:
		t.Fatal("premature delivery")
	default:
	}
	c.Advance(2 * time.Second)
	select {
	case at := <-ch:
		if !at.Equal(start.Add(2 * time.Second)) {
			t.Errorf("delivered %v", at)
		}
	default:
		t.Fatal("nothing delivered")
	}
}

func TestWaitForTimersUnblocks(t *testing.T) {
	c := Fake(start)
	done := make(chan struct{})
	go func() {
		c.WaitForTimers(1)
		close(done)
	}()
	c.AfterFunc(time.Second, func() {})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForTimers never unblocked")
	}
}
