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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"

	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
	"sysgate.dev/sysgate/pkg/sync"
)

// Value is a script operand. It is expanded before use: $0..$9 are the
// command line words, $* is the arguments after the program name, $# is
// their count, and any other $name is a script variable.
type Value string

// UnmarshalYAML implements yaml.Unmarshaler. Any scalar is accepted, so
// that numbers need not be quoted.
func (v *Value) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar, got %v", n.Line, n.Tag)
	}
	*v = Value(n.Value)
	return nil
}

// Step is one system call of a script.
type Step struct {
	// Call is the system call name.
	Call string `yaml:"call"`

	Status Value `yaml:"status,omitempty"`
	Cmd    Value `yaml:"cmd,omitempty"`
	PID    Value `yaml:"pid,omitempty"`
	File   Value `yaml:"file,omitempty"`
	Size   Value `yaml:"size,omitempty"`
	FD     Value `yaml:"fd,omitempty"`
	Data   Value `yaml:"data,omitempty"`
	Pos    Value `yaml:"pos,omitempty"`

	// Save names a variable that receives the result.
	Save string `yaml:"save,omitempty"`

	// Into names a variable that receives the bytes read by read.
	Into string `yaml:"into,omitempty"`

	// Expect, if set, is the required result. A mismatch is reported on
	// the console and the script exits with status 1.
	Expect Value `yaml:"expect,omitempty"`

	// Repeat runs the step this many times. Zero means once.
	Repeat int `yaml:"repeat,omitempty"`
}

// Script is a user program written as a list of system calls.
type Script struct {
	Name string `yaml:"name"`

	// Env holds the initial variables. Running a script updates it, so
	// each process runs its own copy.
	Env map[string]string `yaml:"env,omitempty"`

	Steps []Step `yaml:"steps"`
}

// ScriptFile is a collection of scripts.
type ScriptFile struct {
	Programs []*Script `yaml:"programs"`
}

// ParseScript parses a single script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseScriptFile parses a collection of scripts.
func ParseScriptFile(data []byte) ([]*Script, error) {
	var f ScriptFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, s := range f.Programs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("program %q defined twice", s.Name)
		}
		seen[s.Name] = true
	}
	return f.Programs, nil
}

// Marshal encodes s as an executable image.
func (s *Script) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

func (s *Script) validate() error {
	if s.Name == "" {
		return fmt.Errorf("script has no name")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("script %q has no steps", s.Name)
	}
	for i, st := range s.Steps {
		if _, ok := pintos.SysnoByName(st.Call); !ok {
			return fmt.Errorf("script %q step %d: unknown call %q", s.Name, i, st.Call)
		}
		if st.Repeat < 0 {
			return fmt.Errorf("script %q step %d: negative repeat", s.Name, i)
		}
	}
	return nil
}

// Run executes s as process p and returns the exit status: 0 if every step
// ran, or 1 if a step did not return what it expected.
func (s *Script) Run(p *Proc) int32 {
	if s.Env == nil {
		s.Env = make(map[string]string)
	}
	args := p.Args()
	expand := func(v Value) string {
		return os.Expand(string(v), func(key string) string {
			switch key {
			case "*":
				if len(args) > 1 {
					return strings.Join(args[1:], " ")
				}
				return ""
			case "#":
				return strconv.Itoa(len(args) - 1)
			}
			if i, err := strconv.Atoi(key); err == nil {
				if i < len(args) {
					return args[i]
				}
				return ""
			}
			return s.Env[key]
		})
	}
	num := func(v Value) uint32 {
		str := strings.TrimSpace(expand(v))
		if str == "" {
			return 0
		}
		n, err := strconv.ParseInt(str, 0, 64)
		if err != nil {
			panic(fmt.Sprintf("%s: %q is not a number", s.Name, str))
		}
		return uint32(n)
	}

	for _, st := range s.Steps {
		for r := 0; r < st.Repeat || r == 0; r++ {
			p.Reset()
			res := s.step(p, &st, expand, num)
			if st.Save != "" {
				s.Env[st.Save] = strconv.FormatInt(int64(res), 10)
			}
			if st.Expect != "" {
				if want := int32(num(st.Expect)); res != want {
					p.Printf("%s: %s returned %d, expected %d\n", s.Name, st.Call, res, want)
					return 1
				}
			}
		}
	}
	return 0
}

// step makes the system call described by st and returns its result.
func (s *Script) step(p *Proc, st *Step, expand func(Value) string, num func(Value) uint32) int32 {
	fd := int32(num(st.FD))
	switch st.Call {
	case "halt":
		p.Halt()
	case "exit":
		p.Exit(int32(num(st.Status)))
	case "exec":
		return p.Exec(expand(st.Cmd))
	case "wait":
		return p.Wait(int32(num(st.PID)))
	case "create":
		return boolResult(p.Create(expand(st.File), num(st.Size)))
	case "remove":
		return boolResult(p.Remove(expand(st.File)))
	case "open":
		return p.Open(expand(st.File))
	case "filesize":
		return p.Filesize(fd)
	case "read":
		size := num(st.Size)
		buf := p.Alloc(int(size))
		n := p.Read(fd, buf, size)
		if st.Into != "" && n > 0 {
			s.Env[st.Into] = string(p.MustLoad(buf, int(n)))
		}
		return n
	case "write":
		return p.WriteString(fd, expand(st.Data))
	case "seek":
		p.Seek(fd, num(st.Pos))
	case "tell":
		return int32(p.Tell(fd))
	case "close":
		p.Close(fd)
	}
	return 0
}

func boolResult(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// ScriptLoader is a kernel.Loader for executables holding a YAML script.
// Each image is parsed once; every process gets its own copy.
type ScriptLoader struct {
	mu sync.Mutex

	// +checklocks:mu
	parsed map[string]*Script
}

// Load implements kernel.Loader.Load.
func (l *ScriptLoader) Load(name string, image []byte) (kernel.Entry, error) {
	tmpl, err := l.parse(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", kernerr.ENOEXEC, name, err)
	}
	s := deepcopy.Copy(tmpl).(*Script)
	return Main(s.Run), nil
}

func (l *ScriptLoader) parse(image []byte) (*Script, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.parsed[string(image)]; ok {
		return s, nil
	}
	s, err := ParseScript(image)
	if err != nil {
		return nil, err
	}
	if l.parsed == nil {
		l.parsed = make(map[string]*Script)
	}
	l.parsed[string(image)] = s
	return s, nil
}
