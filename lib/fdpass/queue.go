// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package fdpass

import (
	"errors"
	"os"
	"slices"
)

// Queue is an ordered sequence of owned file descriptors. The zero value
// is an empty queue ready to use. A Queue is not safe for concurrent use.
type Queue struct {
	files []*os.File
}

// NewQueue returns a queue holding files in order. The queue takes
// ownership of the files but not of the slice.
func NewQueue(files ...*os.File) *Queue {
	return &Queue{files: slices.Clone(files)}
}

// Len returns the number of queued descriptors.
func (q *Queue) Len() int {
	return len(q.files)
}

// Push appends f to the back of the queue and takes ownership of it.
func (q *Queue) Push(f *os.File) {
	q.files = append(q.files, f)
}

// At returns the i-th queued file without removing it. The queue keeps
// ownership. Panics if i is out of range.
func (q *Queue) At(i int) *os.File {
	return q.files[i]
}

// PopFront removes and returns the first file. Ownership passes to the
// caller, who must close it. The second result is false when the queue
// is empty.
func (q *Queue) PopFront() (*os.File, bool) {
	if len(q.files) == 0 {
		return nil, false
	}
	f := q.files[0]
	q.files[0] = nil
	q.files = q.files[1:]
	return f, true
}

// DropFront removes the first n files and closes them. n larger than
// Len drops everything.
func (q *Queue) DropFront(n int) error {
	n = min(n, len(q.files))
	var errs []error
	for i := 0; i < n; i++ {
		if err := q.files[i].Close(); err != nil {
			errs = append(errs, err)
		}
		q.files[i] = nil
	}
	q.files = q.files[n:]
	return errors.Join(errs...)
}

// Close closes every queued file and empties the queue.
func (q *Queue) Close() error {
	return q.DropFront(len(q.files))
}
