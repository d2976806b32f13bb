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

package pintos

import "testing"

func TestSysnoNames(t *testing.T) {
	for s := Sysno(0); s < NumSyscalls; s++ {
		name := s.String()
		if name == "" {
			t.Errorf("Sysno(%d) has no name", s)
			continue
		}
		got, ok := SysnoByName(name)
		if !ok || got != s {
			t.Errorf("SysnoByName(%q) = %d, %t, want %d, true", name, got, ok, s)
		}
	}
	if got, want := Sysno(99).String(), "sys_99"; got != want {
		t.Errorf("Sysno(99).String() = %q, want %q", got, want)
	}
	if _, ok := SysnoByName("fork"); ok {
		t.Errorf("SysnoByName(fork) succeeded, want failure")
	}
}
