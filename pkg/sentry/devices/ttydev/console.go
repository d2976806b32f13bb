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

// Package ttydev implements the console and keyboard.
//
// The console is write-only and the keyboard is read-only. User programs
// reach them through the reserved descriptors 1 and 0.
package ttydev

import (
	"io"

	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/sync"
)

// Console is the kernel console. Each PutBuf is written in one piece, so
// output from different processes interleaves only between calls.
type Console struct {
	mu sync.Mutex

	// +checklocks:mu
	w io.Writer

	// +checklocks:mu
	calls uint64

	// +checklocks:mu
	bytes uint64
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// PutBuf writes b to the console.
func (c *Console) PutBuf(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.bytes += uint64(len(b))
	if _, err := c.w.Write(b); err != nil {
		log.Warningf("console write of %d bytes failed: %v", len(b), err)
	}
}

// Stats returns the number of PutBuf calls and bytes written.
func (c *Console) Stats() (calls, bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, c.bytes
}
