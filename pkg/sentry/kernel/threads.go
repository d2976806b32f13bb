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

package kernel

import (
	"fmt"
)

// ThreadID is a process identifier. Each process has exactly one thread, so
// process and thread IDs coincide.
type ThreadID int32

// String returns a decimal representation of the ThreadID.
func (tid ThreadID) String() string {
	return fmt.Sprintf("%d", tid)
}

// KernelTID is the ThreadID of the pseudo-task that parents processes
// started by the kernel itself.
const KernelTID ThreadID = 0

// InitTID is the TID given to the first process.
const InitTID ThreadID = 1

// TasksLimit is the default maximum number of live processes.
const TasksLimit = 1 << 10
