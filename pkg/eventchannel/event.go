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

// Package eventchannel delivers kernel events to external observers.
//
// Events are protobuf messages. Binary emitters write each message wrapped
// in an anypb.Any, preceded by its uvarint length; text emitters write one
// protojson object per line.
package eventchannel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"

	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/sync"
)

// Emitter emits a proto message.
type Emitter interface {
	// Emit writes a single eventchannel message to an emitter. Emit should
	// return hangup = true to indicate an emitter has "hung up" and no further
	// messages should be directed to it.
	Emit(msg proto.Message) (hangup bool, err error)

	// Close closes this emitter. Emit cannot be used after Close is called.
	Close() error
}

// DefaultEmitter is the default emitter. Calls to Emit and AddEmitter are sent
// to this Emitter.
var DefaultEmitter = &multiEmitter{}

// Emit is a helper method that calls DefaultEmitter.Emit.
func Emit(msg proto.Message) error {
	_, err := DefaultEmitter.Emit(msg)
	return err
}

// AddEmitter is a helper method that calls DefaultEmitter.AddEmitter.
func AddEmitter(e Emitter) {
	DefaultEmitter.AddEmitter(e)
}

// Event builds an event message of the given kind. Field values may be any
// type accepted by structpb.NewValue.
func Event(kind string, fields map[string]any) (*structpb.Struct, error) {
	m := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		m[k] = v
	}
	m["kind"] = kind
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("building %q event: %w", kind, err)
	}
	return s, nil
}

// EmitEvent builds an event with Event and sends it to DefaultEmitter. Errors
// are logged, not returned, as events are best effort.
func EmitEvent(kind string, fields map[string]any) {
	ev, err := Event(kind, fields)
	if err != nil {
		log.Warningf("Dropping event: %v", err)
		return
	}
	if err := Emit(ev); err != nil {
		log.Debugf("Emitting %q event: %v", kind, err)
	}
}

// multiEmitter is an Emitter that forwards messages to multiple Emitters.
type multiEmitter struct {
	// mu protects emitters.
	mu sync.Mutex
	// emitters is initialized lazily in AddEmitter.
	emitters map[Emitter]struct{}
}

// Emit emits a message using all added emitters.
func (me *multiEmitter) Emit(msg proto.Message) (bool, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	var err error
	for e := range me.emitters {
		hangup, eerr := e.Emit(msg)
		if eerr != nil {
			if err == nil {
				err = fmt.Errorf("error emitting %v: on %v: %v", msg, e, eerr)
			} else {
				err = fmt.Errorf("%v; on %v: %v", err, e, eerr)
			}

			// Log as well, since most callers ignore the error.
			log.Warningf("Error emitting %v on %v: %v", msg, e, eerr)
		}
		if hangup {
			log.Infof("Hangup on eventchannel emitter %v.", e)
			delete(me.emitters, e)
		}
	}

	return false, err
}

// AddEmitter adds a new emitter.
func (me *multiEmitter) AddEmitter(e Emitter) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.emitters == nil {
		me.emitters = make(map[Emitter]struct{})
	}
	me.emitters[e] = struct{}{}
}

// Close closes all emitters. If any Close call errors, it returns the first
// one encountered.
func (me *multiEmitter) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	var err error
	for e := range me.emitters {
		if eerr := e.Close(); err == nil && eerr != nil {
			err = eerr
		}
		delete(me.emitters, e)
	}
	return err
}

func marshal(msg proto.Message) ([]byte, error) {
	anyMsg, err := anypb.New(msg)
	if err != nil {
		return nil, err
	}

	// Wire format is uvarint message length followed by binary proto.
	bufMsg, err := proto.Marshal(anyMsg)
	if err != nil {
		return nil, err
	}
	p := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(p, uint64(len(bufMsg)))
	return append(p[:n], bufMsg...), nil
}

// unmarshal decodes one message written by a binary emitter from r.
func unmarshal(r *bufio.Reader) (proto.Message, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	var anyMsg anypb.Any
	if err := proto.Unmarshal(buf, &anyMsg); err != nil {
		return nil, err
	}
	return anyMsg.UnmarshalNew()
}

// writerEmitter emits length-prefixed binary proto messages on a writer.
type writerEmitter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// WriterEmitter creates a binary emitter on w. WriterEmitter takes ownership
// of w.
func WriterEmitter(w io.WriteCloser) Emitter {
	return &writerEmitter{w: w}
}

// Emit implements Emitter.Emit.
func (s *writerEmitter) Emit(msg proto.Message) (bool, error) {
	p, err := marshal(msg)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(p); err != nil {
		return true, err
	}
	return false, nil
}

// Close implements Emitter.Close.
func (s *writerEmitter) Close() error {
	return s.w.Close()
}

// debugEmitter writes each message as a line of JSON. This is useful for
// debugging -- when the messages are intended for humans.
type debugEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

// DebugEmitter creates an emitter that writes protojson text to w. Close
// does not close w.
func DebugEmitter(w io.Writer) Emitter {
	return &debugEmitter{w: w}
}

// Emit implements Emitter.Emit.
func (d *debugEmitter) Emit(msg proto.Message) (bool, error) {
	b, err := protojson.MarshalOptions{}.Marshal(msg)
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := fmt.Fprintf(d.w, "%s\n", b); err != nil {
		return true, err
	}
	return false, nil
}

// Close implements Emitter.Close.
func (d *debugEmitter) Close() error {
	return nil
}
