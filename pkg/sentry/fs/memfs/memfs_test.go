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

package memfs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCreate(t *testing.T) {
	mfs := New()
	for _, tc := range []struct {
		name string
		want bool
	}{
		{"a", true},
		{"a", false},
		{"", false},
		{"exactly14chars", true},
		{"fifteen-chars!!", false},
	} {
		if got := mfs.Create(tc.name, 10); got != tc.want {
			t.Errorf("Create(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
	if diff := cmp.Diff([]string{"a", "exactly14chars"}, mfs.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenMissing(t *testing.T) {
	mfs := New()
	if f := mfs.Open("nope"); f != nil {
		t.Errorf("Open(nope) = %v, want nil", f)
	}
}

func TestReadWrite(t *testing.T) {
	mfs := New()
	mfs.Create("f", 4)
	f := mfs.Open("f")
	defer f.Close()

	if got := f.Length(); got != 4 {
		t.Errorf("Length = %d, want 4", got)
	}
	if n := f.Write([]byte("012345")); n != 6 {
		t.Errorf("Write wrote %d bytes, want 6", n)
	}
	if got := f.Length(); got != 6 {
		t.Errorf("Length after growing write = %d, want 6", got)
	}
	if got := f.Tell(); got != 6 {
		t.Errorf("Tell = %d, want 6", got)
	}
	f.Seek(2)
	buf := make([]byte, 16)
	n := f.Read(buf)
	if got, want := string(buf[:n]), "2345"; got != want {
		t.Errorf("Read = %q, want %q", got, want)
	}
	f.Seek(100)
	if n := f.Read(buf); n != 0 {
		t.Errorf("Read past end = %d, want 0", n)
	}
}

func TestWritePastEndZeroFills(t *testing.T) {
	mfs := New()
	mfs.Create("f", 0)
	f := mfs.Open("f")
	defer f.Close()
	f.Seek(3)
	if n := f.Write([]byte("x")); n != 1 {
		t.Fatalf("Write wrote %d bytes, want 1", n)
	}
	got, _ := mfs.Contents("f")
	if want := []byte{0, 0, 0, 'x'}; !cmp.Equal(want, got) {
		t.Errorf("Contents = %q, want %q", got, want)
	}
	if n := f.Write(nil); n != 0 {
		t.Errorf("empty Write = %d, want 0", n)
	}
}

func TestIndependentPositions(t *testing.T) {
	mfs := New()
	mfs.AddFile("f", []byte("abcdef"))
	f1, f2 := mfs.Open("f"), mfs.Open("f")
	defer f1.Close()
	defer f2.Close()
	buf := make([]byte, 3)
	f1.Read(buf)
	if f2.Tell() != 0 {
		t.Errorf("second file position moved to %d", f2.Tell())
	}
	if got := mfs.OpenCount("f"); got != 2 {
		t.Errorf("OpenCount = %d, want 2", got)
	}
}

func TestRemoveWhileOpen(t *testing.T) {
	mfs := New()
	mfs.AddFile("f", []byte("data"))
	f := mfs.Open("f")
	if !mfs.Remove("f") {
		t.Fatalf("Remove(f) = false")
	}
	if mfs.Remove("f") {
		t.Errorf("second Remove(f) = true")
	}
	if mfs.Open("f") != nil {
		t.Errorf("Open after Remove succeeded")
	}
	buf := make([]byte, 4)
	if n := f.Read(buf); n != 4 || string(buf) != "data" {
		t.Errorf("Read through open file after Remove = %q", buf[:n])
	}
	f.Close()
	if !mfs.Create("f", 0) {
		t.Errorf("Create after Remove failed")
	}
}

func TestDenyWrite(t *testing.T) {
	mfs := New()
	mfs.AddFile("prog", []byte("text"))
	exe := mfs.Open("prog")
	exe.DenyWrite()
	w := mfs.Open("prog")
	if n := w.Write([]byte("XX")); n != 0 {
		t.Errorf("Write to denied file wrote %d bytes", n)
	}
	exe.Close()
	if n := w.Write([]byte("XX")); n != 2 {
		t.Errorf("Write after deny holder closed wrote %d bytes, want 2", n)
	}
	w.Close()
	if got, _ := mfs.Contents("prog"); string(got) != "XXxt" {
		t.Errorf("Contents = %q, want XXxt", got)
	}
}

func TestDoubleClosePanics(t *testing.T) {
	mfs := New()
	mfs.Create("f", 0)
	f := mfs.Open("f")
	f.Close()
	defer func() {
		if recover() == nil {
			t.Errorf("second Close did not panic")
		}
	}()
	f.Close()
}
