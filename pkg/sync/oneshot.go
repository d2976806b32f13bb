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

package sync

// OneShot is a signal that is raised at most once and may be waited on by
// any number of goroutines, before or after it is raised.
//
// The zero value is an unraised signal ready to use.
type OneShot struct {
	mu Mutex

	// ch is closed when the signal is raised. It is allocated lazily so the
	// zero value is usable.
	ch chan struct{}

	// raised is true once Signal has been called.
	raised bool
}

// +checklocks:s.mu
func (s *OneShot) chanLocked() chan struct{} {
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

// Signal raises the signal, releasing all current and future waiters.
// Subsequent calls have no effect.
func (s *OneShot) Signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raised {
		return
	}
	s.raised = true
	close(s.chanLocked())
}

// Wait blocks until the signal is raised.
func (s *OneShot) Wait() {
	<-s.Done()
}

// Done returns a channel that is closed when the signal is raised.
func (s *OneShot) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chanLocked()
}

// Signaled returns true if the signal has been raised.
func (s *OneShot) Signaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raised
}
