// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package fdpass

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/pskd-project/pskd/lib/testutil"
)

// openDevNull returns count freshly opened descriptors for /dev/null.
func openDevNull(t *testing.T, count int) []*os.File {
	t.Helper()
	files := make([]*os.File, count)
	for i := range files {
		file, err := os.Open(os.DevNull)
		if err != nil {
			t.Fatalf("opening %s: %v", os.DevNull, err)
		}
		files[i] = file
	}
	return files
}

// readAll reads exactly len(want) bytes through reader and compares.
func readAll(t *testing.T, reader *Reader, want string) {
	t.Helper()
	buffer := make([]byte, len(want))
	if _, err := io.ReadFull(reader, buffer); err != nil {
		t.Fatalf("reading: %v", err)
	}
	if string(buffer) != want {
		t.Fatalf("read %q, want %q", buffer, want)
	}
}

func TestWriter_EmptyBufferSendsNothing(t *testing.T) {
	left, _ := testutil.UnixPair(t)
	queue := NewQueue(openDevNull(t, 3)...)
	defer queue.Close()

	writer := NewWriter(left, queue)
	n, err := writer.Write(nil)
	if err != nil {
		t.Fatalf("Write(nil): %v", err)
	}
	if n != 0 {
		t.Errorf("Write(nil) = %d, want 0", n)
	}
	if queue.Len() != 3 {
		t.Errorf("queue length = %d, want 3 (nothing sent)", queue.Len())
	}
}

func TestWriter_SendsWholeQueueUnderLimit(t *testing.T) {
	left, right := testutil.UnixPair(t)

	content := []byte("secret-key-material")
	fixture := testutil.TempFileWith(t, content)
	queue := NewQueue(fixture)
	queue.Push(openDevNull(t, 1)[0])

	writer := NewWriter(left, queue)
	n, err := writer.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Errorf("Write = %d, want 5", n)
	}
	if queue.Len() != 0 {
		t.Errorf("queue length after send = %d, want 0", queue.Len())
	}

	// The sender's copy is closed once the kernel has it.
	if _, err := fixture.Read(make([]byte, 1)); !errors.Is(err, os.ErrClosed) {
		t.Errorf("sent file still open on sender side: %v", err)
	}

	reader := NewReader(right, nil)
	readAll(t, reader, "hello")
	received := reader.Queue()
	defer received.Close()
	if received.Len() != 2 {
		t.Fatalf("received %d descriptors, want 2", received.Len())
	}

	first, _ := received.PopFront()
	defer first.Close()
	got, err := io.ReadAll(first)
	if err != nil {
		t.Fatalf("reading received descriptor: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("received descriptor content = %q, want %q", got, content)
	}
}

func TestWriter_OverLimitSendsOneByte(t *testing.T) {
	left, right := testutil.UnixPair(t)

	const total = MaxFDsPerMessage + 47
	queue := NewQueue(openDevNull(t, total)...)
	defer queue.Close()

	writer := NewWriter(left, queue)
	payload := []byte("hello")

	n, err := writer.Write(payload)
	if err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if n != 1 {
		t.Fatalf("first Write = %d, want 1 while queue exceeds the limit", n)
	}
	if queue.Len() != total-MaxFDsPerMessage {
		t.Fatalf("queue length after first Write = %d, want %d", queue.Len(), total-MaxFDsPerMessage)
	}

	n, err = writer.Write(payload[1:])
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if n != 4 {
		t.Errorf("second Write = %d, want 4", n)
	}
	if queue.Len() != 0 {
		t.Errorf("queue length after second Write = %d, want 0", queue.Len())
	}

	reader := NewReader(right, nil)
	readAll(t, reader, "hello")
	received := reader.Queue()
	defer received.Close()
	if received.Len() != total {
		t.Errorf("received %d descriptors, want %d", received.Len(), total)
	}
}

func TestWriter_Flush(t *testing.T) {
	left, _ := testutil.UnixPair(t)
	if err := NewWriter(left, nil).Flush(); err != nil {
		t.Errorf("Flush: %v", err)
	}
}

func TestReader_EOF(t *testing.T) {
	left, right := testutil.UnixPair(t)
	left.Close()

	n, err := NewReader(right, nil).Read(make([]byte, 8))
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("Read after peer close = (%d, %v), want (0, EOF)", n, err)
	}
}

func TestQueue_PopFrontTransfersOwnership(t *testing.T) {
	files := openDevNull(t, 2)
	queue := NewQueue(files...)

	first, ok := queue.PopFront()
	if !ok || first != files[0] {
		t.Fatalf("PopFront returned %v, %v", first, ok)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if files[0] == nil || files[1] == nil {
		t.Error("queue cleared entries of the slice it was built from")
	}

	// The popped file is untouched by closing the queue.
	if _, err := first.Stat(); err != nil {
		t.Errorf("popped file was closed by the queue: %v", err)
	}
	first.Close()

	if _, ok := queue.PopFront(); ok {
		t.Error("PopFront on an empty queue reported a file")
	}
}

func TestQueue_DropFrontBeyondLength(t *testing.T) {
	queue := NewQueue(openDevNull(t, 2)...)
	if err := queue.DropFront(5); err != nil {
		t.Fatalf("DropFront: %v", err)
	}
	if queue.Len() != 0 {
		t.Errorf("Len = %d, want 0", queue.Len())
	}
}
