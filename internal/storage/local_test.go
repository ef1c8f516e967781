package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalPutAndStat(t *testing.T) {
	base := t.TempDir()
	local := NewLocal(base)

	if err := local.Put(context.Background(), "apps/742_9.0.1.tgz", strings.NewReader("archive"), 7); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(base, "apps", "742_9.0.1.tgz"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "archive" {
		t.Fatalf("unexpected content: %q", data)
	}

	info, found, err := local.Stat(context.Background(), "apps/742_9.0.1.tgz")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !found || info.Size != 7 {
		t.Fatalf("unexpected stat: found=%v info=%+v", found, info)
	}
}

func TestLocalStatMissing(t *testing.T) {
	local := NewLocal(t.TempDir())
	_, found, err := local.Stat(context.Background(), "nope.tgz")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if found {
		t.Fatalf("missing key reported as present")
	}
}

func TestLocalPutCancelled(t *testing.T) {
	local := NewLocal(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := local.Put(ctx, "x.tgz", strings.NewReader("x"), 1); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
