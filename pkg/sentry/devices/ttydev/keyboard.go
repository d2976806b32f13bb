// Copyright 2024 The gVisor Authors.
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

package ttydev

import (
	"errors"
	"io"

	"sysgate.dev/sysgate/pkg/sync"
)

// keyboardBuffer is the number of keystrokes buffered ahead of readers.
const keyboardBuffer = 64

// Keyboard is the kernel keyboard. Getc blocks until a key is available.
type Keyboard struct {
	keys chan byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewKeyboard returns a Keyboard with no pending input.
func NewKeyboard() *Keyboard {
	return &Keyboard{
		keys: make(chan byte, keyboardBuffer),
		done: make(chan struct{}),
	}
}

// Getc returns the next key. After Close, once buffered keys are drained,
// it returns 0 without blocking.
func (k *Keyboard) Getc() byte {
	select {
	case c := <-k.keys:
		return c
	default:
	}
	select {
	case c := <-k.keys:
		return c
	case <-k.done:
		return 0
	}
}

// Feed queues b as keystrokes, blocking while the buffer is full. It
// returns false if the keyboard was closed first.
func (k *Keyboard) Feed(b []byte) bool {
	for _, c := range b {
		select {
		case k.keys <- c:
		case <-k.done:
			return false
		}
	}
	return true
}

// Pump feeds everything read from r until EOF, a read error or Close.
func (k *Keyboard) Pump(r io.Reader) error {
	var buf [256]byte
	for {
		n, err := r.Read(buf[:])
		if n > 0 && !k.Feed(buf[:n]) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Close releases blocked readers and writers.
func (k *Keyboard) Close() {
	k.closeOnce.Do(func() { close(k.done) })
}
