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

// Package cmd holds implementations of the sysgate commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"

	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the user, so they should be easy to read.
var ErrorLogger io.Writer

// Errorf logs error to --log, to stderr and to the debug logs. It returns
// subcommands.ExitFailure for convenience with subcommand.Execute() methods.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	// Write to the debug log first so the message is not lost if stderr is
	// closed.
	log.Warningf(format, args...)

	line := fmt.Sprintf(format+"\n", args...)
	if ErrorLogger != nil {
		_, _ = io.WriteString(ErrorLogger, line)
	}
	_, _ = io.WriteString(os.Stderr, line)
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	// Return an error that is unlikely to be used by a program.
	os.Exit(128)
}

// exitStatus returns the host exit status for a command that failed with
// err: the errno of the kernel error err wraps, or 1.
func exitStatus(err error) int {
	if e := kernerr.UnixFromError(err); e != 0 {
		return int(e)
	}
	return 1
}

// fileFlags collects repeated name=path flags.
type fileFlags map[string]string

// String implements flag.Value.
func (f *fileFlags) String() string {
	var parts []string
	for name, path := range *f {
		parts = append(parts, name+"="+path)
	}
	return strings.Join(parts, ",")
}

// Get implements flag.Getter.
func (f *fileFlags) Get() any {
	return *f
}

// Set implements flag.Value.
func (f *fileFlags) Set(s string) error {
	name, path, ok := strings.Cut(s, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("invalid file flag %q, want name=path", s)
	}
	if *f == nil {
		*f = make(fileFlags)
	}
	if _, dup := (*f)[name]; dup {
		return fmt.Errorf("file %q given twice", name)
	}
	(*f)[name] = path
	return nil
}
