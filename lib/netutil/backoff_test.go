// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_DoublesUpToMax(t *testing.T) {
	var backoff Backoff

	want := MinBackoff
	for range 20 {
		if got := backoff.Next(); got != want {
			t.Fatalf("Next = %v, want %v", got, want)
		}
		want = min(want*2, MaxBackoff)
	}
	if got := backoff.Next(); got != MaxBackoff {
		t.Errorf("Next after many failures = %v, want %v", got, MaxBackoff)
	}

	backoff.Reset()
	if got := backoff.Next(); got != MinBackoff {
		t.Errorf("Next after Reset = %v, want %v", got, MinBackoff)
	}
}

func TestBackoff_WaitStopsOnCancel(t *testing.T) {
	backoff := Backoff{delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if backoff.Wait(ctx) {
		t.Error("Wait reported a full delay on a cancelled context")
	}
}

func TestBackoff_WaitElapses(t *testing.T) {
	var backoff Backoff
	start := time.Now()
	if !backoff.Wait(context.Background()) {
		t.Fatal("Wait returned early without cancellation")
	}
	if elapsed := time.Since(start); elapsed < MinBackoff {
		t.Errorf("Wait returned after %v, want at least %v", elapsed, MinBackoff)
	}
}
