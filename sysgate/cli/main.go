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

// Package cli is the main entrypoint for sysgate.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"runtime"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"sysgate.dev/sysgate/pkg/eventchannel"
	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/metric"
	"sysgate.dev/sysgate/sysgate/cmd"
	"sysgate.dev/sysgate/sysgate/config"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}
	subcommand := flag.CommandLine.Arg(0)

	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	// The boot ID names this run in log file names, JSON logs and the
	// kernel's events.
	bootID := uuid.New()

	var emitters log.MultiEmitter
	logFile, err := log.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.FileOpts{Command: subcommand, Boot: bootID.String()})
	if err != nil {
		cmd.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
	}
	if logFile != nil {
		emitters = append(emitters, newEmitter(conf.LogFormat, logFile, bootID))
		cmd.ErrorLogger = logFile
	}
	if conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr, bootID))
	}
	switch len(emitters) {
	case 0:
		// Stdout belongs to the console; discard the logs if no log is
		// specified.
		log.SetTarget(newEmitter("text", io.Discard, bootID))
	case 1:
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	if conf.EventLog != "" {
		f, err := os.OpenFile(conf.EventLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			cmd.Fatalf("error opening event log %q: %v", conf.EventLog, err)
		}
		var e eventchannel.Emitter = eventchannel.DebugEmitter(f)
		if conf.EventRate > 0 {
			e = eventchannel.RateLimitedEmitterFrom(e, conf.EventRate, 1)
		}
		eventchannel.AddEmitter(e)
	}

	const delimString = `**************** sysgate ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %d CPUs, %s, PID %d, PPID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid(), os.Getppid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	if err := metric.Initialize(); err != nil {
		log.Warningf("Initializing metrics: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	// Call the subcommand and pass in the configuration.
	var status int
	subcmdCode := subcommands.Execute(ctx, conf, &status, bootID)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %d", status)
		os.Exit(status & 0xff)
	}
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	if status != 0 {
		os.Exit(status & 0xff)
	}
	// Return an error that is unlikely to be used by a program.
	os.Exit(128)
}

// forEachCmd invokes the passed callback for each command supported by
// sysgate.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Run), "")
	cb(new(cmd.Syscalls), "")
}

func newEmitter(format string, logFile io.Writer, bootID uuid.UUID) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}, Boot: bootID.String()}
	case "logrus":
		return log.NewLogrusEmitter(logFile)
	}
	cmd.Fatalf("invalid log format %q, must be 'text', 'json', or 'logrus'", format)
	panic("unreachable")
}
