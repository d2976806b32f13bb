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
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestConsolePutBuf(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)
	c.PutBuf([]byte("hello, "))
	c.PutBuf([]byte("world\n"))
	if got, want := out.String(), "hello, world\n"; got != want {
		t.Errorf("console output = %q, want %q", got, want)
	}
	if calls, n := c.Stats(); calls != 2 || n != 13 {
		t.Errorf("Stats = (%d, %d), want (2, 13)", calls, n)
	}
}

func TestKeyboardPump(t *testing.T) {
	k := NewKeyboard()
	go k.Pump(strings.NewReader("abc"))
	var got []byte
	for i := 0; i < 3; i++ {
		got = append(got, k.Getc())
	}
	if string(got) != "abc" {
		t.Errorf("Getc sequence = %q, want abc", got)
	}
}

func TestKeyboardGetcBlocks(t *testing.T) {
	k := NewKeyboard()
	ch := make(chan byte)
	go func() { ch <- k.Getc() }()
	select {
	case c := <-ch:
		t.Fatalf("Getc returned %q with no input", c)
	case <-time.After(20 * time.Millisecond):
	}
	k.Feed([]byte{'z'})
	if c := <-ch; c != 'z' {
		t.Errorf("Getc = %q, want z", c)
	}
}

func TestKeyboardClose(t *testing.T) {
	k := NewKeyboard()
	k.Feed([]byte("q"))
	k.Close()
	if c := k.Getc(); c != 'q' {
		t.Errorf("Getc after Close = %q, want buffered q", c)
	}
	if c := k.Getc(); c != 0 {
		t.Errorf("Getc on drained closed keyboard = %q, want 0", c)
	}
}
