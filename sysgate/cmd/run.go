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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"golang.org/x/term"

	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/prometheus"
	"sysgate.dev/sysgate/pkg/userlib"
	"sysgate.dev/sysgate/sysgate/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// programs is a YAML file of scripted programs.
	programs string

	// files are host files copied into the file system.
	files fileFlags
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot a machine and run programs until they exit"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <command line>... - boot a machine, run each command line as a process and wait for all of them.

The exit status is the exit status of the first process. If a process
cannot be started, it is the host errno of the kernel error.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.programs, "programs", "", "YAML file of scripted programs to install as executables.")
	f.Var(&r.files, "file", "name=path of a host file to copy into the file system. May be repeated.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	status := args[1].(*int)

	margs := MachineArgs{
		Conf:    conf,
		Console: os.Stdout,
		Files:   make(map[string][]byte),
	}
	if len(args) > 2 {
		margs.BootID = args[2].(uuid.UUID)
	}
	if r.programs != "" {
		data, err := os.ReadFile(r.programs)
		if err != nil {
			return Errorf("reading programs: %v", err)
		}
		scripts, err := userlib.ParseScriptFile(data)
		if err != nil {
			return Errorf("parsing programs %q: %v", r.programs, err)
		}
		margs.Scripts = scripts
	}
	for name, path := range r.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return Errorf("reading file %q: %v", name, err)
		}
		margs.Files[name] = data
	}

	m, err := NewMachine(margs)
	if err != nil {
		*status = exitStatus(err)
		return Errorf("%v", err)
	}
	log.Infof("Machine booted, boot ID %s", m.Kernel.BootID())

	restore, err := startKeyboard(m, conf.Keyboard, os.Stdin)
	if err != nil {
		m.Shutdown()
		return Errorf("starting keyboard: %v", err)
	}

	statuses, runErr := m.RunAll(ctx, f.Args())
	m.Shutdown()
	restore()

	if err := dumpMetrics(conf.MetricsFile); err != nil {
		log.Warningf("Writing metrics: %v", err)
	}
	if runErr != nil {
		*status = exitStatus(runErr)
		return Errorf("%v", runErr)
	}
	*status = int(statuses[0])
	return subcommands.ExitSuccess
}

// startKeyboard feeds the machine's keyboard from in according to mode. The
// returned function undoes any terminal changes.
func startKeyboard(m *Machine, mode config.KeyboardMode, in *os.File) (func(), error) {
	restore := func() {}
	switch mode {
	case config.KeyboardNone:
		m.Keyboard.Close()
		return restore, nil
	case config.KeyboardRaw:
		if fd := int(in.Fd()); term.IsTerminal(fd) {
			old, err := term.MakeRaw(fd)
			if err != nil {
				return nil, fmt.Errorf("making terminal raw: %w", err)
			}
			restore = func() {
				if err := term.Restore(fd, old); err != nil {
					log.Warningf("Restoring terminal: %v", err)
				}
			}
		}
	}
	go func() {
		if err := m.Keyboard.Pump(in); err != nil {
			log.Debugf("Keyboard input stopped: %v", err)
		}
	}()
	return restore, nil
}

// dumpMetrics writes the current metric values to path, if set.
func dumpMetrics(path string) error {
	if path == "" {
		return nil
	}
	var w io.Writer = os.Stderr
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err := prometheus.WriteCurrent(w)
	return err
}
