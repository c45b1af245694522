package testutil

import (
	"bytes"
	"sync"
)

// ThreadSafeBuffer is a bytes.Buffer safe for concurrent writers, used to capture logs.
type ThreadSafeBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *ThreadSafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *ThreadSafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

func (b *ThreadSafeBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer.Reset()
}
