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

// Package kernerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package kernerr

import (
	stderrors "errors"

	"golang.org/x/sys/unix"

	"sysgate.dev/sysgate/pkg/abi/errno"
	"sysgate.dev/sysgate/pkg/errors"
)

// The following errors are semantically identical to Errno of type
// unix.Errno. However, since the types are distinct (these are
// *errors.Error), they are not directly comparable. The Errno method returns
// an Errno number such that the error can be compared to unix.Errno (e.g.
// unix.Errno(EPERM.Errno()) == unix.EPERM is true).
var (
	noError      *errors.Error = nil
	EPERM                      = errors.New(errno.EPERM, "operation not permitted")
	ENOENT                     = errors.New(errno.ENOENT, "no such file or directory")
	ESRCH                      = errors.New(errno.ESRCH, "no such process")
	EINTR                      = errors.New(errno.EINTR, "interrupted system call")
	EIO                        = errors.New(errno.EIO, "I/O error")
	ENOEXEC                    = errors.New(errno.ENOEXEC, "exec format error")
	EBADF                      = errors.New(errno.EBADF, "bad file number")
	ECHILD                     = errors.New(errno.ECHILD, "no child processes")
	EAGAIN                     = errors.New(errno.EAGAIN, "try again")
	ENOMEM                     = errors.New(errno.ENOMEM, "out of memory")
	EFAULT                     = errors.New(errno.EFAULT, "bad address")
	EEXIST                     = errors.New(errno.EEXIST, "file exists")
	EINVAL                     = errors.New(errno.EINVAL, "invalid argument")
	EMFILE                     = errors.New(errno.EMFILE, "too many open files")
	ETXTBSY                    = errors.New(errno.ETXTBSY, "text file busy")
	ENAMETOOLONG               = errors.New(errno.ENAMETOOLONG, "file name too long")
	ENOSYS                     = errors.New(errno.ENOSYS, "invalid system call number")
)

// ToUnix converts a kernerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// UnixFromError returns the unix.Errno of the first kernerr in err's chain,
// or 0 if there is none.
func UnixFromError(err error) unix.Errno {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return 0
	}
	return ToUnix(e)
}
