package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gotarr/sbmirror/internal/util"
)

type fakeSource struct {
	data     []byte
	lastMod  time.Time
	err      error
	streamAt int // fail after this many bytes when > 0
	calls    int
}

func (f *fakeSource) Download(ctx context.Context, uid int, version string) (io.ReadCloser, time.Time, error) {
	f.calls++
	if f.err != nil {
		return nil, time.Time{}, f.err
	}
	if f.streamAt > 0 {
		return io.NopCloser(io.MultiReader(
			bytes.NewReader(f.data[:f.streamAt]),
			&failingReader{},
		)), f.lastMod, nil
	}
	return io.NopCloser(bytes.NewReader(f.data)), f.lastMod, nil
}

type failingReader struct{}

func (f *failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestFetchWritesArchive(t *testing.T) {
	dir := t.TempDir()
	when := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{data: []byte("archive-bytes"), lastMod: when}
	fetcher := New(source, zerolog.Nop())

	outcome, produced, err := fetcher.Fetch(context.Background(), 123, "1.1", dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if outcome != Downloaded {
		t.Fatalf("expected Downloaded, got %v", outcome)
	}
	if !produced.Equal(when) {
		t.Fatalf("expected remote last-modified, got %v", produced)
	}
	data, err := os.ReadFile(util.ArchivePath(dir, 123, "1.1"))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(data) != "archive-bytes" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestFetchFallsBackToNow(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{data: []byte("x")}
	fetcher := New(source, zerolog.Nop())

	before := time.Now().UTC()
	_, produced, err := fetcher.Fetch(context.Background(), 1, "1.0", dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if produced.Before(before) || produced.Location() != time.UTC {
		t.Fatalf("expected current UTC instant, got %v", produced)
	}
}

func TestFetchIdempotent(t *testing.T) {
	dir := t.TempDir()
	target := util.ArchivePath(dir, 888, "1.0")
	if err := os.WriteFile(target, []byte("data"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	source := &fakeSource{data: []byte("other")}
	fetcher := New(source, zerolog.Nop())

	outcome, _, err := fetcher.Fetch(context.Background(), 888, "1.0", dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if outcome != AlreadyPresent {
		t.Fatalf("expected AlreadyPresent, got %v", outcome)
	}
	if source.calls != 0 {
		t.Fatalf("no network I/O expected, got %d calls", source.calls)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "data" {
		t.Fatalf("existing archive overwritten: %q", data)
	}
}

func TestFetchCleansUpPartialFile(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{data: []byte("0123456789"), streamAt: 4}
	fetcher := New(source, zerolog.Nop())

	_, _, err := fetcher.Fetch(context.Background(), 999, "0.0.1", dir)
	if err == nil {
		t.Fatalf("expected stream failure")
	}
	if _, statErr := os.Stat(util.ArchivePath(dir, 999, "0.0.1")); !os.IsNotExist(statErr) {
		t.Fatalf("partial file must not survive: %v", statErr)
	}
}

func TestFetchSourceError(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{err: fmt.Errorf("status 503")}
	fetcher := New(source, zerolog.Nop())

	_, _, err := fetcher.Fetch(context.Background(), 1, "1.0", dir)
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, statErr := os.Stat(util.ArchivePath(dir, 1, "1.0")); !os.IsNotExist(statErr) {
		t.Fatalf("no file expected on source failure")
	}
}

func TestHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.tgz")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum, err := Hash(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	// sha256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if sum != want {
		t.Fatalf("unexpected digest: %s", sum)
	}
}
