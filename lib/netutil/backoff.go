// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"time"
)

// Delay bounds for Backoff.
const (
	MinBackoff = 5 * time.Millisecond
	MaxBackoff = time.Second
)

// Backoff is a doubling delay for loops that retry a failing call, such
// as Accept returning EMFILE. The zero value starts at MinBackoff. A
// Backoff is not safe for concurrent use.
type Backoff struct {
	delay time.Duration
}

// Next returns the delay to wait now and doubles the following one, up
// to MaxBackoff.
func (b *Backoff) Next() time.Duration {
	if b.delay < MinBackoff {
		b.delay = MinBackoff
	}
	delay := b.delay
	b.delay = min(b.delay*2, MaxBackoff)
	return delay
}

// Reset returns the delay to MinBackoff after a success.
func (b *Backoff) Reset() {
	b.delay = 0
}

// Wait sleeps for Next or until ctx is done. It reports whether the
// full delay elapsed.
func (b *Backoff) Wait(ctx context.Context) bool {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
