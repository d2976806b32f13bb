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

package log

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(expected, tw.lines); diff != "" {
		t.Errorf("Writer lines mismatch (-want +got):\n%s", diff)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: &buf}}
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warningf("shown %d", 3)
	if got, want := buf.String(), "shown 2\nshown 3\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) = false after SetLevel(Debug)")
	}
}

func TestGoogleEmitter(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Debug, Emitter: GoogleEmitter{&Writer{Next: &buf}}}
	l.Warningf("task %d exited", 7)
	got := buf.String()
	if !strings.HasPrefix(got, "W") {
		t.Errorf("line %q does not start with level W", got)
	}
	if !strings.HasSuffix(got, "] task 7 exited\n") {
		t.Errorf("line %q does not end with the message", got)
	}
}

func TestLogrusEmitter(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Debug, Emitter: NewLogrusEmitter(&buf)}
	l.Debugf("opened fd %d", 2)
	l.Warningf("bad pointer")
	got := buf.String()
	for _, want := range []string{"level=debug", `msg="opened fd 2"`, "level=warning", `msg="bad pointer"`} {
		if !strings.Contains(got, want) {
			t.Errorf("logrus output %q missing %q", got, want)
		}
	}
}

func TestRateLimitedLogger(t *testing.T) {
	var buf bytes.Buffer
	l := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: &Writer{Next: &buf}}, time.Hour)
	for i := 0; i < 10; i++ {
		l.Warningf("fault %d", i)
	}
	if got, want := buf.String(), "fault 0\n"; got != want {
		t.Errorf("rate limited output = %q, want %q", got, want)
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFile(filepath.Join(dir, "sub", "%COMMAND%-%BOOT%.log"), os.O_CREATE|os.O_WRONLY, FileOpts{Command: "run", Boot: "abc"})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if got, want := f.Name(), filepath.Join(dir, "sub", "run-abc.log"); got != want {
		t.Errorf("OpenFile name = %q, want %q", got, want)
	}

	if f, err := OpenFile("", os.O_CREATE, FileOpts{}); f != nil || err != nil {
		t.Errorf("OpenFile(\"\") = %v, %v, want nil, nil", f, err)
	}
}
