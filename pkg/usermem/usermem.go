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

// Package usermem validates and accesses user memory on behalf of the
// kernel.
//
// The kernel never dereferences a user pointer it has not checked. Every
// check here is eager: a pointer is valid iff it is non-null, below the
// user/kernel split and mapped in the caller's address space. Failures are
// reported as EFAULT; the syscall layer turns EFAULT into process
// termination.
package usermem

import (
	"encoding/binary"

	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/hostarch"
)

// ByteOrder is the byte order of words on the user stack.
var ByteOrder = binary.LittleEndian

// AddressSpace answers whether a user address is mapped.
type AddressSpace interface {
	// Probe returns true if addr is mapped. It must not fault.
	Probe(addr hostarch.Addr) bool
}

// IO is an AddressSpace that can also be read and written.
type IO interface {
	AddressSpace

	// CopyIn copies len(dst) bytes starting at addr into dst. It returns the
	// number of bytes copied and a non-nil error if that is less than
	// len(dst).
	CopyIn(addr hostarch.Addr, dst []byte) (int, error)

	// CopyOut copies src to addr, with the same return semantics as CopyIn.
	CopyOut(addr hostarch.Addr, src []byte) (int, error)
}

// CheckAddr returns nil iff addr is non-null, a user address and mapped.
func CheckAddr(as AddressSpace, addr hostarch.Addr) error {
	if addr == 0 || addr.IsKernel() || !as.Probe(addr) {
		return kernerr.EFAULT
	}
	return nil
}

// CheckRange returns nil iff every byte in [addr, addr+length) passes
// CheckAddr. addr itself is always checked, so a null pointer fails even
// when length is 0. Ranges that wrap around the address space fail.
//
// Validity is a property of pages, so one probe per page touched is
// equivalent to probing every byte.
func CheckRange(as AddressSpace, addr hostarch.Addr, length uint64) error {
	if err := CheckAddr(as, addr); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	end, ok := addr.AddLength(length)
	if !ok {
		return kernerr.EFAULT
	}
	last := end - 1
	for page := addr.RoundDown() + hostarch.PageSize; page <= last && page != 0; page += hostarch.PageSize {
		if err := CheckAddr(as, page); err != nil {
			return err
		}
	}
	return nil
}

// CheckCString returns the length of the NUL-terminated string at addr,
// excluding the terminator, after checking every byte up to and including
// the terminator. The string may be as long as the mapping allows.
func CheckCString(uio IO, addr hostarch.Addr) (int, error) {
	_, n, err := copyInCString(uio, addr, false)
	return n, err
}

// CopyInString checks the NUL-terminated string at addr like CheckCString
// and returns it without the terminator.
func CopyInString(uio IO, addr hostarch.Addr) (string, error) {
	s, _, err := copyInCString(uio, addr, true)
	return s, err
}

func copyInCString(uio IO, addr hostarch.Addr, keep bool) (string, int, error) {
	if err := CheckAddr(uio, addr); err != nil {
		return "", 0, err
	}
	var (
		buf   []byte
		chunk [hostarch.PageSize]byte
		total int
	)
	for {
		// Read up to the end of the current page, which CheckAddr has
		// established is mapped.
		want := hostarch.PageSize - int(addr.PageOffset())
		n, err := uio.CopyIn(addr, chunk[:want])
		if err != nil {
			return "", 0, kernerr.EFAULT
		}
		for i := 0; i < n; i++ {
			if chunk[i] == 0 {
				if keep {
					buf = append(buf, chunk[:i]...)
				}
				return string(buf), total + i, nil
			}
		}
		if keep {
			buf = append(buf, chunk[:n]...)
		}
		total += n
		next, ok := addr.AddLength(uint64(n))
		if !ok {
			return "", 0, kernerr.EFAULT
		}
		addr = next
		if err := CheckAddr(uio, addr); err != nil {
			return "", 0, err
		}
	}
}

// CopyInUint32 checks the 4-byte word at addr and returns its value.
func CopyInUint32(uio IO, addr hostarch.Addr) (uint32, error) {
	if err := CheckRange(uio, addr, 4); err != nil {
		return 0, err
	}
	var b [4]byte
	if _, err := uio.CopyIn(addr, b[:]); err != nil {
		return 0, kernerr.EFAULT
	}
	return ByteOrder.Uint32(b[:]), nil
}

// CopyOutUint32 checks the 4-byte word at addr and stores v there.
func CopyOutUint32(uio IO, addr hostarch.Addr, v uint32) error {
	if err := CheckRange(uio, addr, 4); err != nil {
		return err
	}
	var b [4]byte
	ByteOrder.PutUint32(b[:], v)
	if _, err := uio.CopyOut(addr, b[:]); err != nil {
		return kernerr.EFAULT
	}
	return nil
}

// CopyInBytes checks [addr, addr+len(dst)) and copies it into dst.
func CopyInBytes(uio IO, addr hostarch.Addr, dst []byte) error {
	if err := CheckRange(uio, addr, uint64(len(dst))); err != nil {
		return err
	}
	if _, err := uio.CopyIn(addr, dst); err != nil {
		return kernerr.EFAULT
	}
	return nil
}

// CopyOutBytes checks [addr, addr+len(src)) and copies src into it.
func CopyOutBytes(uio IO, addr hostarch.Addr, src []byte) error {
	if err := CheckRange(uio, addr, uint64(len(src))); err != nil {
		return err
	}
	if _, err := uio.CopyOut(addr, src); err != nil {
		return kernerr.EFAULT
	}
	return nil
}
