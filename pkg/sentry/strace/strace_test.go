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

package strace

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	abi "sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/sentry/devices/ttydev"
	"sysgate.dev/sysgate/pkg/sentry/fs/memfs"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
	"sysgate.dev/sysgate/pkg/sentry/syscalls/pintos"
	"sysgate.dev/sysgate/pkg/userlib"
)

// recorder is a log.Logger that keeps Infof lines.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Debugf(format string, v ...any)   {}
func (r *recorder) Warningf(format string, v ...any) {}
func (r *recorder) IsLogging(log.Level) bool         { return true }

func (r *recorder) Infof(format string, v ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// trace runs prog traced with opts and returns the trace lines.
func trace(t *testing.T, opts Options, prog func(p *userlib.Proc) int32) []string {
	t.Helper()
	rec := &recorder{}
	opts.Logger = rec
	if _, err := Install(pintos.Table, opts); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	defer Uninstall(pintos.Table)

	mfs := memfs.New()
	mfs.AddFile("prog", nil)
	mfs.AddFile("f", []byte("abcdef"))
	k := new(kernel.Kernel)
	if err := k.Init(kernel.InitKernelArgs{
		FileSystem:   mfs,
		Console:      ttydev.NewConsole(new(bytes.Buffer)),
		Loader:       kernel.Programs{"prog": userlib.Main(prog)},
		SyscallTable: pintos.Table,
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	pintos.Init(k)
	defer func() {
		k.PowerOff()
		k.WaitExited()
	}()
	pid, err := k.Execute(nil, "prog")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	k.Wait(nil, pid)
	return rec.all()
}

// expectLines checks that each want substring appears in order. Several
// may match the same line.
func expectLines(t *testing.T, got []string, want ...string) {
	t.Helper()
	i := 0
	for _, line := range got {
		for i < len(want) {
			j := strings.Index(line, want[i])
			if j < 0 {
				break
			}
			line = line[j+len(want[i]):]
			i++
		}
	}
	if i < len(want) {
		t.Errorf("trace is missing %q; got:\n%s", want[i], strings.Join(got, "\n"))
	}
}

func TestTraceFormat(t *testing.T) {
	got := trace(t, Options{}, func(p *userlib.Proc) int32 {
		p.WriteString(1, "hi\n")
		fd := p.Open("f")
		p.ReadBytes(fd, 3)
		p.Close(fd)
		p.Exit(7)
		return 0
	})
	expectLines(t, got,
		`E write(1 (stdout), `,
		`"hi\n", 3)`,
		`X write(1 (stdout), `,
		`"hi\n", 3) = 3 (`,
		`E open(`,
		`"f")`,
		`X open(`,
		`"f") = 2 (`,
		`E read(2, `,
		`X read(2, `,
		`"abc", 3) = 3 (`,
		`X close(2) = `,
		`E exit(7)`,
		`X exit(7) = ? (`,
	)
}

func TestTraceFilter(t *testing.T) {
	got := trace(t, Options{Syscalls: []string{"tell"}}, func(p *userlib.Proc) int32 {
		fd := p.Open("f")
		p.Seek(fd, 4)
		p.Tell(fd)
		return 0
	})
	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(got), strings.Join(got, "\n"))
	}
	expectLines(t, got, "E tell(2)", "X tell(2) = 4 (")
}

func TestTraceTruncates(t *testing.T) {
	defer func(old uint) { LogMaximumSize = old }(LogMaximumSize)
	LogMaximumSize = 2
	got := trace(t, Options{Syscalls: []string{"write"}}, func(p *userlib.Proc) int32 {
		p.WriteString(1, "hello")
		return 0
	})
	expectLines(t, got, `"he"..., 5)`)
}

func TestTraceBadPath(t *testing.T) {
	got := trace(t, Options{Syscalls: []string{"create"}}, func(p *userlib.Proc) int32 {
		// A name running off the end of the data segment.
		addr := p.Context().DataSegment().End - 1
		p.MustStore(addr, []byte{'x'})
		p.Syscall(abi.SYS_CREATE, uint32(addr), 0)
		return 0
	})
	expectLines(t, got, "E create(", "error decoding path")
}

func TestEnableUnknown(t *testing.T) {
	if _, err := New(Pintos, Options{Syscalls: []string{"fork"}}); err == nil {
		t.Errorf("New accepted an unknown syscall")
	}
}

func TestInfo(t *testing.T) {
	for no, info := range Pintos {
		got, err := Pintos.ConvertToSysno(info.Name())
		if err != nil || got != no {
			t.Errorf("ConvertToSysno(%q) = %d, %v; want %d", info.Name(), got, err, no)
		}
	}
	if got := Pintos.Info(99).Name(); got != "sys_99" {
		t.Errorf("Info(99).Name() = %q", got)
	}
}
