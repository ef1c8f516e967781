package fetch

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func writeTarball(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatalf("header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func TestVerifyValidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1_1.0.tgz")
	writeTarball(t, path, map[string]string{"app/default/app.conf": "[install]\n"})
	if err := Verify(path); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2_1.0.tgz")
	if err := os.WriteFile(path, []byte("this is not gzip"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Verify(path); err == nil {
		t.Fatalf("expected verification failure")
	}
}

func TestVerifyRejectsTruncated(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "full.tgz")
	writeTarball(t, full, map[string]string{"a": "content that is long enough to truncate meaningfully"})
	data, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	truncated := filepath.Join(dir, "3_1.0.tgz")
	if err := os.WriteFile(truncated, data[:len(data)/2], 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Verify(truncated); err == nil {
		t.Fatalf("expected verification failure for truncated archive")
	}
}
