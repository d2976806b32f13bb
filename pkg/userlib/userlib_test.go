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

package userlib

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/sentry/devices/ttydev"
	"sysgate.dev/sysgate/pkg/sentry/fs/memfs"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
	"sysgate.dev/sysgate/pkg/sentry/syscalls/pintos"
)

const echoScript = `
name: echo
steps:
  - call: write
    fd: 1
    data: "$*\n"
`

const catScript = `
name: cat
steps:
  - call: open
    file: $1
    save: fd
    expect: 2
  - call: filesize
    fd: $fd
    save: size
  - call: read
    fd: $fd
    size: $size
    into: contents
  - call: write
    fd: 1
    data: $contents
  - call: close
    fd: $fd
`

const scriptFile = `
programs:
  - name: init
    steps:
      - call: create
        file: out
        size: 0
        expect: 1
      - call: exec
        cmd: child 9
        save: pid
      - call: wait
        pid: $pid
        expect: 9
      - call: open
        file: out
        save: fd
      - call: write
        fd: $fd
        data: counted
        repeat: 3
  - name: child
    env:
      greeting: hi
    steps:
      - call: write
        fd: 1
        data: "$greeting from $0\n"
      - call: exit
        status: $1
`

// boot starts a kernel running scripts with loader l.
func boot(t *testing.T, l *ScriptLoader, scripts ...*Script) (*kernel.Kernel, *memfs.FileSystem, *bytes.Buffer) {
	t.Helper()
	if l == nil {
		l = &ScriptLoader{}
	}
	mfs := memfs.New()
	for _, s := range scripts {
		image, err := s.Marshal()
		if err != nil {
			t.Fatalf("Marshal(%s) failed: %v", s.Name, err)
		}
		mfs.AddFile(s.Name, image)
	}
	out := new(bytes.Buffer)
	k := new(kernel.Kernel)
	if err := k.Init(kernel.InitKernelArgs{
		FileSystem:   mfs,
		Console:      ttydev.NewConsole(out),
		Loader:       kernel.ChainLoader{l, testPrograms},
		SyscallTable: pintos.Table,
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	pintos.Init(k)
	t.Cleanup(func() {
		k.PowerOff()
		k.WaitExited()
	})
	return k, mfs, out
}

func run(t *testing.T, k *kernel.Kernel, cmdline string) int32 {
	t.Helper()
	pid, err := k.Execute(nil, cmdline)
	if err != nil {
		t.Fatalf("Execute(%q) failed: %v", cmdline, err)
	}
	return k.Wait(nil, pid)
}

func mustParse(t *testing.T, src string) *Script {
	t.Helper()
	s, err := ParseScript([]byte(src))
	if err != nil {
		t.Fatalf("ParseScript failed: %v", err)
	}
	return s
}

func TestParseScriptErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		want string
	}{
		{"noname", "steps: [{call: halt}]", "no name"},
		{"nosteps", "name: x", "no steps"},
		{"badcall", "name: x\nsteps: [{call: fork}]", "unknown call"},
		{"badrepeat", "name: x\nsteps: [{call: tell, repeat: -1}]", "negative repeat"},
		{"unknownfield", "name: x\nsteps: [{call: tell, bogus: 1}]", "bogus"},
		{"notyaml", "\x7fELF\x01\x01", ""},
		{"mapvalue", "name: x\nsteps: [{call: write, data: {a: b}}]", "expected a scalar"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tc.src))
			if err == nil {
				t.Fatalf("ParseScript succeeded")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestScriptMarshalRoundTrip(t *testing.T) {
	s := mustParse(t, catScript)
	image, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got := mustParse(t, string(image))
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestScriptEcho(t *testing.T) {
	k, _, out := boot(t, nil, mustParse(t, echoScript))
	if got := run(t, k, "echo  hello   there"); got != 0 {
		t.Fatalf("status = %d", got)
	}
	if diff := cmp.Diff("hello there\necho: exit(0)\n", out.String()); diff != "" {
		t.Errorf("console mismatch (-want +got):\n%s", diff)
	}
}

func TestScriptCat(t *testing.T) {
	k, mfs, out := boot(t, nil, mustParse(t, catScript))
	mfs.AddFile("poem", []byte("roses are red\n"))
	if got := run(t, k, "cat poem"); got != 0 {
		t.Fatalf("status = %d", got)
	}
	if got := run(t, k, "cat nothing"); got != 1 {
		t.Errorf("cat of a missing file: status = %d, want 1", got)
	}
	want := "roses are red\ncat: exit(0)\ncat: open returned -1, expected 2\ncat: exit(1)\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("console mismatch (-want +got):\n%s", diff)
	}
}

func TestScriptFile(t *testing.T) {
	scripts, err := ParseScriptFile([]byte(scriptFile))
	if err != nil {
		t.Fatalf("ParseScriptFile failed: %v", err)
	}
	k, mfs, out := boot(t, nil, scripts...)
	if got := run(t, k, "init"); got != 0 {
		t.Fatalf("status = %d, console:\n%s", got, out)
	}
	if data, _ := mfs.Contents("out"); string(data) != "countedcountedcounted" {
		t.Errorf("out = %q", data)
	}
	if diff := cmp.Diff("hi from child\nchild: exit(9)\ninit: exit(0)\n", out.String()); diff != "" {
		t.Errorf("console mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseScriptFile([]byte("programs: [{name: a, steps: [{call: halt}]}, {name: a, steps: [{call: halt}]}]")); err == nil {
		t.Errorf("duplicate program names accepted")
	}
}

// Each process runs on its own copy of a script's variables.
func TestScriptLoaderCopies(t *testing.T) {
	src := `
name: counter
env:
  n: "1"
steps:
  - call: tell
    fd: 5
    save: n
  - call: exit
    status: $n
`
	l := &ScriptLoader{}
	k, _, _ := boot(t, l, mustParse(t, src))
	for i := 0; i < 2; i++ {
		if got := run(t, k, "counter"); got != 0 {
			t.Errorf("run %d: status = %d, want 0", i, got)
		}
	}
	if len(l.parsed) != 1 {
		t.Fatalf("loader parsed %d images, want 1", len(l.parsed))
	}
	for _, tmpl := range l.parsed {
		if diff := cmp.Diff(map[string]string{"n": "1"}, tmpl.Env); diff != "" {
			t.Errorf("template env changed (-want +got):\n%s", diff)
		}
	}
	if _, err := l.Load("junk", []byte("junk")); !errors.Is(err, kernerr.ENOEXEC) {
		t.Errorf("Load of a non-script = %v, want ENOEXEC", err)
	}
}

// testPrograms are Go programs available to every test kernel.
var testPrograms = kernel.Programs{
	"alloc": Main(func(p *Proc) int32 {
		a := p.Alloc(3)
		b := p.Alloc(1)
		if b != a+4 {
			return 1
		}
		p.Reset()
		if p.Alloc(1) != a {
			return 2
		}
		s := p.CString("abc")
		if string(p.MustLoad(s, 4)) != "abc\x00" {
			return 3
		}
		if diff := cmp.Diff([]string{"alloc", "x", "y"}, p.Args()); diff != "" {
			return 4
		}
		return 0
	}),
	"oom": Main(func(p *Proc) int32 {
		p.Alloc(int(p.Context().DataSegment().Length()) + 1)
		return 0
	}),
}

func TestProcAlloc(t *testing.T) {
	k, mfs, _ := boot(t, nil)
	mfs.AddFile("alloc", nil)
	mfs.AddFile("oom", nil)
	if got := run(t, k, "alloc x y"); got != 0 {
		t.Errorf("alloc: status = %d, want 0", got)
	}
	if got := run(t, k, "oom"); got != -1 {
		t.Errorf("oom: status = %d, want -1", got)
	}
}
