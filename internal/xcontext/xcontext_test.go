// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package xcontext

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/clock/fakeclock"
)

// isDone checks if the Done channel of ctx is closed.
func isDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// waitDone waits cancellation of ctx up to 10 seconds. It returns true if the
// context is canceled; otherwise false.
func waitDone(ctx context.Context) bool {
	const timeout = 10 * time.Second

	// Use the real timer.
	tm := time.NewTimer(timeout)
	defer tm.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-tm.C:
		return false
	}
}

// useFakeClock installs a fake clock initialized with the UNIX epoch.
// restore must be called later to uninstall the fake clock.
func useFakeClock() (fclk *fakeclock.FakeClock, restore func()) {
	fclk = fakeclock.NewFakeClock(time.Unix(0, 0))
	clk = fclk
	restore = func() { clk = clock.NewClock() }
	return fclk, restore
}

func TestWithCancel(t *testing.T) {
	ctx, cancel := WithCancel(context.Background())
	defer cancel(context.Canceled)

	if isDone(ctx) {
		t.Error("On init: Done is already signaled")
	}
	if err := ctx.Err(); err != nil {
		t.Errorf("On init: Err is already set: %v", err)
	}

	// Cancel the context with wantErr.
	wantErr := errors.New("custom error")
	cancel(wantErr)

	if !isDone(ctx) {
		t.Error("After first cancel: Done is not signaled yet")
	}
	if err := ctx.Err(); err != wantErr {
		t.Errorf("After first cancel: Err mismatch: got %q, want %q", err, wantErr)
	}

	// Cancel the context again, which is ignored.
	cancel(errors.New("another error"))

	if err := ctx.Err(); err != wantErr {
		t.Errorf("After second cancel: Err mismatch: got %q, want %q", err, wantErr)
	}
}

func TestWithCancel_Propagate(t *testing.T) {
	ctx1, cancel1 := WithCancel(context.Background())
	defer cancel1(context.Canceled)

	ctx2, cancel2 := WithCancel(ctx1)
	defer cancel2(context.Canceled)

	wantErr := errors.New("custom error")
	cancel1(wantErr)

	if !waitDone(ctx2) {
		t.Fatal("Child context not canceled on parent cancellation")
	}
	if err := ctx2.Err(); err != wantErr {
		t.Errorf("Err mismatch: got %q, want %q", err, wantErr)
	}
}

func TestWithTimeout(t *testing.T) {
	fclk, restore := useFakeClock()
	defer restore()

	wantErr := errors.New("deadline error")
	ctx, cancel := WithTimeout(context.Background(), time.Minute, wantErr)
	defer cancel(context.Canceled)

	if isDone(ctx) {
		t.Error("On init: Done is already signaled")
	}

	fclk.WaitForWatcherAndIncrement(time.Minute)

	if !waitDone(ctx) {
		t.Fatal("Context not canceled on reaching deadline")
	}
	if err := ctx.Err(); err != wantErr {
		t.Errorf("Err mismatch: got %q, want %q", err, wantErr)
	}
}

func TestWithTimeout_AlreadyExpired(t *testing.T) {
	_, restore := useFakeClock()
	defer restore()

	wantErr := errors.New("deadline error")
	ctx, cancel := WithTimeout(context.Background(), -time.Second, wantErr)
	defer cancel(context.Canceled)

	if !isDone(ctx) {
		t.Fatal("On init: Done is not signaled for an expired deadline")
	}
	if err := ctx.Err(); err != wantErr {
		t.Errorf("Err mismatch: got %q, want %q", err, wantErr)
	}
}

func TestWithTimeout_CancelBeforeDeadline(t *testing.T) {
	_, restore := useFakeClock()
	defer restore()

	deadlineErr := errors.New("deadline error")
	cancelErr := errors.New("cancel error")

	ctx, cancel := WithTimeout(context.Background(), time.Minute, deadlineErr)
	cancel(cancelErr)

	if !isDone(ctx) {
		t.Fatal("After cancel: Done is not signaled")
	}
	if err := ctx.Err(); err != cancelErr {
		t.Errorf("Err mismatch: got %q, want %q", err, cancelErr)
	}
}
