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

package mm

import (
	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/hostarch"
)

// CopyIn copies len(dst) bytes from the address space starting at addr. It
// returns the number of bytes copied and EFAULT if it stopped at an unmapped
// or kernel address.
//
// CopyIn does not fault pages in; callers validate user pointers first.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	done := 0
	for done < len(dst) {
		p, ok := mm.lookupLocked(addr)
		if !ok {
			return done, kernerr.EFAULT
		}
		off := addr.PageOffset()
		n := copy(dst[done:], p.data[off:])
		done += n
		next, ok := addr.AddLength(uint64(n))
		if !ok {
			break
		}
		addr = next
	}
	if done < len(dst) {
		return done, kernerr.EFAULT
	}
	return done, nil
}

// CopyOut copies src into the address space starting at addr. It has the
// same return semantics as CopyIn.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	done := 0
	for done < len(src) {
		p, ok := mm.lookupLocked(addr)
		if !ok {
			return done, kernerr.EFAULT
		}
		off := addr.PageOffset()
		n := copy(p.data[off:], src[done:])
		done += n
		next, ok := addr.AddLength(uint64(n))
		if !ok {
			break
		}
		addr = next
	}
	if done < len(src) {
		return done, kernerr.EFAULT
	}
	return done, nil
}

// +checklocksread:mm.mu
func (mm *MemoryManager) lookupLocked(addr hostarch.Addr) (*page, bool) {
	if addr.IsKernel() {
		return nil, false
	}
	return mm.pages.Get(&page{num: addr.PageNumber()})
}
