// Package exectest helps running subprocesses as part of tests.
//
// Check the test files of this package for examples.
package exectest

import (
	"bytes"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"
)

// Background is a command running in the background of a test.
type Background struct {
	tb      testing.TB
	Cmd     *exec.Cmd
	done    chan struct{}
	err     error
	errLock sync.Mutex
	// Log command output to tests.
	Name      string
	LogStdout bool
	LogStderr bool
	// StopGrace is how long Close waits after SIGTERM before killing.
	StopGrace time.Duration
}

// NewBackground prepares a command to run in the background of a test.
func NewBackground(tb testing.TB, cmd *exec.Cmd) *Background {
	return &Background{
		tb:        tb,
		Cmd:       cmd,
		done:      make(chan struct{}),
		StopGrace: 3 * time.Second,
	}
}

// Start spawns a goroutine running the process in the background.
// After calling Start, accessing the provided exec.Cmd is unsafe until Close() returns.
// Can only be called once.
func (b *Background) Start() {
	var prefix string
	if b.Name != "" {
		prefix = b.Name + ": "
	}
	if b.LogStdout {
		b.Cmd.Stdout = &PipeCapture{Prefix: prefix, TB: b.tb}
	}
	if b.LogStderr {
		b.Cmd.Stderr = &PipeCapture{Prefix: prefix, TB: b.tb}
	}
	go func() {
		defer close(b.done)
		err := b.Cmd.Run()
		b.errLock.Lock()
		b.err = err
		b.errLock.Unlock()
	}()
}

// Close asks the process to terminate, killing it after StopGrace.
// It must be called before the test completes,
// regardless whether the command exited already. Close is idempotent.
func (b *Background) Close() {
	if b.Cmd.Process != nil {
		_ = b.Cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-b.done:
		return
	case <-time.After(b.StopGrace):
	}
	if b.Cmd.Process != nil {
		_ = b.Cmd.Process.Kill()
	}
	<-b.done
}

// Done returns a channel that closes when the command exits.
func (b *Background) Done() <-chan struct{} {
	return b.done
}

// Err returns any error that occurred with the process.
func (b *Background) Err() error {
	b.errLock.Lock()
	defer b.errLock.Unlock()
	return b.err
}

// PipeCapture forwards process output to the test log, line by line.
type PipeCapture struct {
	TB     testing.TB
	Prefix string
	buf    bytes.Buffer
}

func (w *PipeCapture) Write(buf []byte) (n int, err error) {
	w.buf.Write(buf)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		w.line(string(w.buf.Next(i + 1)[:i]))
	}
	return len(buf), nil
}

// Flush logs any buffered partial line.
func (w *PipeCapture) Flush() {
	if w.buf.Len() > 0 {
		w.line(w.buf.String())
		w.buf.Reset()
	}
}

func (w *PipeCapture) line(s string) {
	if len(s) > 0 {
		w.TB.Log(w.Prefix + s)
	}
}
