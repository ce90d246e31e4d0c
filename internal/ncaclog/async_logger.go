// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ncaclog

import (
	"fmt"
	"io"
	"os"
)

// AsyncLogger buffers writes through a channel and a single background
// goroutine, so a slow or blocked file sink never stalls the caller
// (request/flow processing must never block on logging I/O). When the
// buffer is full, a write is dropped rather than blocking, and a warning
// is printed to stderr.
type AsyncLogger struct {
	out     io.WriteCloser
	msgs    chan []byte
	done    chan struct{}
	closeCh chan struct{}
}

// NewAsyncLogger starts a background writer over out with a channel of
// the given buffer size.
func NewAsyncLogger(out io.WriteCloser, bufferSize int) *AsyncLogger {
	a := &AsyncLogger{
		out:     out,
		msgs:    make(chan []byte, bufferSize),
		done:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	defer close(a.done)
	for {
		select {
		case msg, ok := <-a.msgs:
			if !ok {
				return
			}
			_, _ = a.out.Write(msg)
		case <-a.closeCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case msg := <-a.msgs:
					_, _ = a.out.Write(msg)
				default:
					return
				}
			}
		}
	}
}

// Write queues p for the background writer. It never blocks: if the
// buffer is full the message is dropped and a warning goes to stderr.
func (a *AsyncLogger) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case a.msgs <- buf:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close stops the background writer after draining any queued messages,
// then closes the underlying sink.
func (a *AsyncLogger) Close() error {
	close(a.closeCh)
	<-a.done
	return a.out.Close()
}
