// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	fake := Fake(testEpoch)
	if !fake.Now().Equal(testEpoch) {
		t.Errorf("Now() = %v, want %v", fake.Now(), testEpoch)
	}

	fake.Advance(time.Minute)
	if !fake.Now().Equal(testEpoch.Add(time.Minute)) {
		t.Errorf("Now() after Advance = %v, want %v", fake.Now(), testEpoch.Add(time.Minute))
	}
}

func TestFakeAfter(t *testing.T) {
	fake := Fake(testEpoch)
	ch := fake.After(30 * time.Second)

	select {
	case <-ch:
		t.Fatal("After channel fired before Advance")
	default:
	}

	fake.Advance(29 * time.Second)
	select {
	case <-ch:
		t.Fatal("After channel fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(testEpoch.Add(30 * time.Second)) {
			t.Errorf("fire time = %v, want %v", fired, testEpoch.Add(30*time.Second))
		}
	default:
		t.Fatal("After channel did not fire at its deadline")
	}
}

func TestFakeAfter_NonPositive(t *testing.T) {
	fake := Fake(testEpoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeAfterFunc(t *testing.T) {
	fake := Fake(testEpoch)
	fired := 0
	fake.AfterFunc(time.Minute, func() { fired++ })

	fake.Advance(59 * time.Second)
	if fired != 0 {
		t.Fatalf("callback fired %d times before deadline", fired)
	}

	fake.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}

	// Already-fired waiters must not fire again.
	fake.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("callback fired %d times after extra Advance, want 1", fired)
	}
}

func TestFakeAfterFunc_Stop(t *testing.T) {
	fake := Fake(testEpoch)
	fired := false
	timer := fake.AfterFunc(time.Minute, func() { fired = true })

	if !timer.Stop() {
		t.Error("Stop() = false for an active timer")
	}
	fake.Advance(time.Hour)
	if fired {
		t.Error("stopped timer fired")
	}
	if timer.Stop() {
		t.Error("Stop() = true for an already-stopped timer")
	}
}

func TestFakeAfterFunc_Reset(t *testing.T) {
	fake := Fake(testEpoch)
	fired := 0
	timer := fake.AfterFunc(time.Minute, func() { fired++ })

	fake.Advance(30 * time.Second)
	if !timer.Reset(time.Minute) {
		t.Error("Reset() = false for an active timer")
	}

	// Original deadline passes without firing.
	fake.Advance(45 * time.Second)
	if fired != 0 {
		t.Fatalf("callback fired %d times before reset deadline", fired)
	}

	fake.Advance(15 * time.Second)
	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}
}

func TestFakeAdvance_FiresInDeadlineOrder(t *testing.T) {
	fake := Fake(testEpoch)
	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(time.Second, func() { order = append(order, 1) })
	fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fake.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("fire order = %v, want [1 2 3]", order)
	}
}
