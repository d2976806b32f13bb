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

package usermem

import (
	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/hostarch"
)

// BytesIO implements IO using a byte slice mapped at Base. Addresses
// outside [Base, Base+len(Bytes)) are unmapped.
type BytesIO struct {
	Base  hostarch.Addr
	Bytes []byte
}

// Probe implements AddressSpace.Probe.
func (b *BytesIO) Probe(addr hostarch.Addr) bool {
	return addr.IsUser() && addr >= b.Base && uint64(addr-b.Base) < uint64(len(b.Bytes))
}

// CopyIn implements IO.CopyIn.
func (b *BytesIO) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	rngN, rngErr := b.rangeCheck(addr, len(dst))
	if rngN == 0 {
		return 0, rngErr
	}
	off := int(addr - b.Base)
	return copy(dst[:rngN], b.Bytes[off:]), rngErr
}

// CopyOut implements IO.CopyOut.
func (b *BytesIO) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	rngN, rngErr := b.rangeCheck(addr, len(src))
	if rngN == 0 {
		return 0, rngErr
	}
	off := int(addr - b.Base)
	return copy(b.Bytes[off:], src[:rngN]), rngErr
}

// rangeCheck returns how many of the length bytes at addr lie in the slice
// and EFAULT if that is short.
func (b *BytesIO) rangeCheck(addr hostarch.Addr, length int) (int, error) {
	if length == 0 {
		return 0, nil
	}
	if !b.Probe(addr) {
		return 0, kernerr.EFAULT
	}
	avail := len(b.Bytes) - int(addr-b.Base)
	if k := int(pintos.PhysBase - uint32(addr)); k < avail {
		avail = k
	}
	if length > avail {
		return avail, kernerr.EFAULT
	}
	return length, nil
}
