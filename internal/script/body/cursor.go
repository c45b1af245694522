// Package body provides the single-consumption body reader shared by inbound requests
// and fetch responses.
package body

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/atlanticdynamic/nitr/internal/script/bridge"
	"github.com/atlanticdynamic/nitr/internal/script/errz"
)

// DefaultChunkSize is the largest chunk returned by Cursor.Read.
const DefaultChunkSize = 32 * 1024

// Cursor yields each byte of an underlying stream at most once. Chunked reads and full
// reads may be mixed; every read observes only the bytes not yet consumed.
type Cursor struct {
	mu        sync.Mutex
	r         io.Reader
	chunkSize int
	limit     int64
	read      int64
	done      bool
}

// Option configures a Cursor.
type Option func(*Cursor)

// WithChunkSize sets the maximum size of one chunk.
func WithChunkSize(n int) Option {
	return func(c *Cursor) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithLimit caps the total number of bytes the cursor will deliver. Zero means no limit.
func WithLimit(n int64) Option {
	return func(c *Cursor) {
		if n > 0 {
			c.limit = n
		}
	}
}

// ErrTooLarge is returned when the stream exceeds the configured limit.
var ErrTooLarge = errors.New("body exceeds size limit")

// NewCursor wraps r. A nil reader behaves as an empty body.
func NewCursor(r io.Reader, opts ...Option) *Cursor {
	c := &Cursor{r: r, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(c)
	}
	if r == nil {
		c.done = true
	}
	return c
}

// Next returns the next chunk, or nil at end of stream.
func (c *Cursor) Next() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return nil, nil
	}

	buf := make([]byte, c.chunkSize)
	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			if err := c.account(int64(n)); err != nil {
				return nil, err
			}
			if errors.Is(err, io.EOF) {
				c.done = true
			}
			return buf[:n], nil
		}
		if errors.Is(err, io.EOF) {
			c.done = true
			return nil, nil
		}
		if err != nil {
			c.done = true
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
	}
}

// ReadAll returns every remaining byte. After it returns, the cursor is exhausted.
func (c *Cursor) ReadAll() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return []byte{}, nil
	}
	c.done = true

	var r io.Reader = c.r
	if c.limit > 0 {
		r = io.LimitReader(c.r, c.limit-c.read+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if err := c.account(int64(len(data))); err != nil {
		return nil, err
	}
	return data, nil
}

// JSON decodes the remaining bytes. An empty remainder is a marshal error.
func (c *Cursor) JSON() (bridge.Value, error) {
	data, err := c.ReadAll()
	if err != nil {
		return bridge.Nil(), err
	}
	if len(data) == 0 {
		return bridge.Nil(), fmt.Errorf(
			"%w: unexpected end of JSON input, the body is empty or already consumed",
			errz.ErrMarshal,
		)
	}
	return bridge.DecodeJSON(data)
}

// Exhausted reports whether the stream has been fully consumed.
func (c *Cursor) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Cursor) account(n int64) error {
	c.read += n
	if c.limit > 0 && c.read > c.limit {
		c.done = true
		return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.limit)
	}
	return nil
}
