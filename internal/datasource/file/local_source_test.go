package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "export.txt")
	if err := os.WriteFile(p, []byte("id|name\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := NewLocal(p).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(f)
	_ = f.Close()
	if string(got) != "id|name\n" {
		t.Fatalf("content = %q", got)
	}

	_, err = NewLocal(filepath.Join(dir, "missing.txt")).Open(context.Background())
	if !errors.Is(err, os.ErrNotExist) || !strings.Contains(err.Error(), "missing.txt") {
		t.Fatalf("missing: err = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocal(p).Open(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled: err = %v", err)
	}
	if _, _, err := NewLocal(p).Append(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled append: err = %v", err)
	}
}

func TestLocalExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if NewLocal(dir).Exists() {
		t.Fatal("a directory is not a source file")
	}
	if NewLocal(filepath.Join(dir, "nope.csv")).Exists() {
		t.Fatal("missing file reported as existing")
	}
}

func TestLocalCreateAndAppend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := filepath.Join(t.TempDir(), "out", "people.csv")
	l := NewLocal(p)

	if l.Exists() {
		t.Fatalf("file should not exist yet")
	}
	f, fresh, err := l.Append(ctx)
	if err != nil || !fresh {
		t.Fatalf("Append(new) fresh=%v err=%v", fresh, err)
	}
	_, _ = f.WriteString("a\n")
	_ = f.Close()

	f, fresh, err = l.Append(ctx)
	if err != nil || fresh {
		t.Fatalf("Append(existing) fresh=%v err=%v", fresh, err)
	}
	_, _ = f.WriteString("b\n")
	_ = f.Close()

	if b, _ := os.ReadFile(p); string(b) != "a\nb\n" {
		t.Fatalf("append content = %q", b)
	}

	f, err = l.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = f.Close()
	if n, _ := l.Size(); n != 0 {
		t.Fatalf("Create should truncate, size=%d", n)
	}
}

