package testutil

import (
	"bytes"
	"sync"
)

// A bytes.Buffer safe for concurrent use. Tests install it as the log
// output when the code under test writes log entries from background
// goroutines.
type SafeBuffer struct {
	b bytes.Buffer
	m sync.Mutex
}

// Reads the bytes from the buffer.
func (b *SafeBuffer) Read(p []byte) (n int, err error) {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.Read(p)
}

// Writes the bytes to the buffer.
func (b *SafeBuffer) Write(p []byte) (n int, err error) {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.Write(p)
}

// Returns the unread bytes accumulated in the buffer.
func (b *SafeBuffer) Bytes() []byte {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.Bytes()
}

// Returns the unread bytes accumulated in the buffer as a string.
func (b *SafeBuffer) String() string {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.String()
}
