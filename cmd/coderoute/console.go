package main

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// console owns standard input. One goroutine scans lines; a line goes to a
// pending Read (an install prompt) first and to Next (the prompt loop)
// otherwise.
type console struct {
	lines  chan string
	closed chan struct{}

	mu     sync.Mutex
	waiter chan string

	readMu  sync.Mutex
	pending []byte
}

func newConsole(in io.Reader) *console {
	c := &console{lines: make(chan string), closed: make(chan struct{})}
	go func() {
		defer close(c.lines)
		defer close(c.closed)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			c.mu.Lock()
			w := c.waiter
			c.waiter = nil
			c.mu.Unlock()
			if w != nil {
				w <- line
				continue
			}
			c.lines <- line
		}
	}()
	return c
}

// Next blocks for the next line. It returns false at end of input or when
// ctx is done.
func (c *console) Next(ctx context.Context) (string, bool) {
	select {
	case line, ok := <-c.lines:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// Read implements io.Reader, yielding at most one line per call.
func (c *console) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if len(c.pending) == 0 {
		w := make(chan string, 1)
		c.mu.Lock()
		c.waiter = w
		c.mu.Unlock()
		select {
		case line := <-w:
			c.pending = []byte(line + "\n")
		case <-c.closed:
			select {
			case line := <-w:
				c.pending = []byte(line + "\n")
			default:
				return 0, io.EOF
			}
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}
