package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func newTestFSStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestFSStore(t)
	ctx := context.Background()

	content := []byte(`{"q1":"answer"}`)
	ref, err := s.Put(ctx, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref == "" {
		t.Fatal("empty ref")
	}

	rc, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content = %q, want %q", got, content)
	}
}

func TestPutAllocatesDistinctRefs(t *testing.T) {
	s := newTestFSStore(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		ref, err := s.Put(ctx, strings.NewReader("same content"))
		if err != nil {
			t.Fatalf("Put[%d]: %v", i, err)
		}
		if seen[ref] {
			t.Fatalf("duplicate ref %q", ref)
		}
		seen[ref] = true
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestFSStore(t)

	_, err := s.Get(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestFSStore(t)
	ctx := context.Background()

	ref, err := s.Put(ctx, strings.NewReader("bye"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestRefSanitization(t *testing.T) {
	s := newTestFSStore(t)

	// A traversal attempt must not escape the blob root; it simply misses.
	_, err := s.Get(context.Background(), "../../etc/passwd")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get traversal ref = %v, want ErrNotFound", err)
	}
}

func TestCanceledContext(t *testing.T) {
	s := newTestFSStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Put(ctx, strings.NewReader("x")); err == nil {
		t.Error("Put with canceled context succeeded")
	}
	if _, err := s.Get(ctx, "ref"); err == nil {
		t.Error("Get with canceled context succeeded")
	}
}
