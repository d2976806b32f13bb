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

// Package config provides basic infrastructure to set configuration settings
// for sysgate. The configuration is set by flags to the command line, and may
// be read from a TOML file.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/sentry/strace"
)

// Config holds configuration that is not part of the programs being run.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and a toml tag with the file key.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// LogFilename is the filename to log to, if not empty. The patterns
	// %COMMAND% and %BOOT% are substituted.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format: "text", "json" or "logrus".
	LogFormat string `flag:"log-format" toml:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// Strace indicates that strace should be enabled.
	Strace bool `flag:"strace" toml:"strace"`

	// StraceSyscalls is a comma-separated list of syscalls to trace. If
	// empty, all syscalls are traced.
	StraceSyscalls string `flag:"strace-syscalls" toml:"strace-syscalls"`

	// StraceLogSize is the max size of data blobs to display.
	StraceLogSize uint `flag:"strace-log-size" toml:"strace-log-size"`

	// StraceEvent indicates sending strace to the event log.
	StraceEvent bool `flag:"strace-event" toml:"strace-event"`

	// EventLog is the file events are written to, if not empty.
	EventLog string `flag:"event-log" toml:"event-log"`

	// EventRate is the maximum number of events written per second. Zero
	// means no limit.
	EventRate float64 `flag:"event-rate" toml:"event-rate"`

	// MetricsFile receives a Prometheus text dump of the kernel metrics
	// when the machine stops. "-" means stderr.
	MetricsFile string `flag:"metrics" toml:"metrics"`

	// MaxTasks bounds the number of live processes.
	MaxTasks int `flag:"max-tasks" toml:"max-tasks"`

	// DataPages is the size of each process's data segment in pages.
	DataPages int `flag:"data-pages" toml:"data-pages"`

	// Keyboard selects the keyboard input source.
	Keyboard KeyboardMode `flag:"keyboard" toml:"keyboard"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "logrus":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json' or 'logrus'", c.LogFormat)
	}
	if c.MaxTasks <= 0 {
		return fmt.Errorf("max-tasks must be positive, got %d", c.MaxTasks)
	}
	if c.DataPages <= 0 {
		return fmt.Errorf("data-pages must be positive, got %d", c.DataPages)
	}
	if c.EventRate < 0 {
		return fmt.Errorf("event-rate must not be negative, got %v", c.EventRate)
	}
	for _, name := range c.StraceSyscallList() {
		if _, err := strace.Pintos.ConvertToSysno(name); err != nil {
			return fmt.Errorf("invalid strace-syscalls: %w", err)
		}
	}
	return nil
}

// StraceSyscallList returns StraceSyscalls as a list.
func (c *Config) StraceSyscallList() []string {
	if c.StraceSyscalls == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(c.StraceSyscalls, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name, ok := f.Tag.Lookup("flag"); ok {
			log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
		}
	}
}

// KeyboardMode tells where keyboard input comes from.
type KeyboardMode int

const (
	// KeyboardStdin reads the keyboard from stdin as is.
	KeyboardStdin KeyboardMode = iota

	// KeyboardRaw puts a terminal stdin into raw mode first, so reads see
	// single keystrokes. It behaves like KeyboardStdin when stdin is not a
	// terminal.
	KeyboardRaw

	// KeyboardNone gives programs a keyboard that never has input.
	KeyboardNone
)

func keyboardModePtr(v KeyboardMode) *KeyboardMode {
	return &v
}

// Set implements flag.Value and toml's TextUnmarshaler through
// UnmarshalText.
func (k *KeyboardMode) Set(v string) error {
	switch v {
	case "stdin":
		*k = KeyboardStdin
	case "raw":
		*k = KeyboardRaw
	case "none":
		*k = KeyboardNone
	default:
		return fmt.Errorf("invalid keyboard mode %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (k *KeyboardMode) Get() any {
	return *k
}

// String implements flag.Value.
func (k KeyboardMode) String() string {
	switch k {
	case KeyboardStdin:
		return "stdin"
	case KeyboardRaw:
		return "raw"
	case KeyboardNone:
		return "none"
	}
	panic(fmt.Sprintf("Invalid keyboard mode %d", k))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *KeyboardMode) UnmarshalText(text []byte) error {
	return k.Set(string(text))
}

// MarshalText implements encoding.TextMarshaler.
func (k KeyboardMode) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
