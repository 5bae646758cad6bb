package clipboard

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
)

func TestStore_StartsEmpty(t *testing.T) {
	s := NewStore()
	if got := s.Text(); got != "" {
		t.Fatalf("Text() = %q, want empty", got)
	}
	if f := s.File(); f != nil {
		t.Fatalf("File() = %+v, want nil", f)
	}
	if _, ok := s.FileMeta(); ok {
		t.Fatal("FileMeta() reported a file on an empty store")
	}
	text, meta := s.Snapshot()
	if text != "" || meta != nil {
		t.Fatalf("Snapshot() = %q, %+v", text, meta)
	}
}

func TestStore_SetTextReplacesWholesale(t *testing.T) {
	s := NewStore()
	for _, v := range []string{"hello", "  spaced \n", "", "zażółć"} {
		s.SetText(v)
		if got := s.Text(); got != v {
			t.Fatalf("Text() = %q, want %q", got, v)
		}
	}
}

func TestStore_FileLifecycle(t *testing.T) {
	s := NewStore()
	a := &File{Name: "a.txt", ContentType: "text/plain", Data: []byte("aaa")}
	b := &File{Name: "b.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}

	s.SetFile(a)
	if got := s.File(); got != a {
		t.Fatalf("File() = %+v, want %+v", got, a)
	}

	s.SetFile(b)
	meta, ok := s.FileMeta()
	if !ok || meta != (FileMeta{Name: "b.png", ContentType: "image/png"}) {
		t.Fatalf("FileMeta() = %+v, %v", meta, ok)
	}
	if got := s.File(); !bytes.Equal(got.Data, b.Data) {
		t.Fatalf("File().Data = %v, want %v", got.Data, b.Data)
	}

	if !s.ClearFile() {
		t.Fatal("ClearFile() = false with a file present")
	}
	if s.ClearFile() {
		t.Fatal("ClearFile() = true on an empty slot")
	}
	if s.File() != nil {
		t.Fatal("file still present after ClearFile")
	}
}

func TestStore_IndependentInstances(t *testing.T) {
	a, b := NewStore(), NewStore()
	a.SetText("a")
	a.SetFile(&File{Name: "x"})
	if b.Text() != "" || b.File() != nil {
		t.Fatal("stores share state")
	}
}

func TestStore_ConcurrentFileReplaceIsAllOrNothing(t *testing.T) {
	s := NewStore()
	wg := new(sync.WaitGroup)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				name := fmt.Sprintf("%d-%d", i, j)
				s.SetFile(&File{Name: name, ContentType: "text/plain", Data: []byte(name)})
				s.SetText(name)
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if f := s.File(); f != nil && string(f.Data) != f.Name {
					t.Errorf("torn file: name %q data %q", f.Name, f.Data)
					return
				}
				_ = s.Text()
			}
		}()
	}
	wg.Wait()
}
