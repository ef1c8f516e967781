// Package fetch streams remote archives to their content-addressed local
// paths. Downloads are idempotent and never leave a partial file behind.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/gotarr/sbmirror/internal/util"
)

const chunkSize = 32 * 1024

// Source provides the remote archive stream.
type Source interface {
	Download(ctx context.Context, uid int, version string) (io.ReadCloser, time.Time, error)
}

type Outcome int

const (
	// Downloaded means the archive was fetched and written.
	Downloaded Outcome = iota
	// AlreadyPresent means the target existed and no network I/O happened.
	AlreadyPresent
)

type Fetcher struct {
	Source Source
	Log    zerolog.Logger
}

func New(source Source, log zerolog.Logger) *Fetcher {
	return &Fetcher{Source: source, Log: log}
}

// Fetch streams {uid}_{version}.tgz into outDir. The produced timestamp is
// the remote Last-Modified in UTC, falling back to the current UTC instant;
// it records when the archive was verified locally present.
func (f *Fetcher) Fetch(ctx context.Context, uid int, version, outDir string) (Outcome, time.Time, error) {
	target := util.ArchivePath(outDir, uid, version)
	if _, err := os.Stat(target); err == nil {
		f.Log.Debug().Str("file", target).Msg("archive already present, skipping download")
		return AlreadyPresent, time.Now().UTC(), nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, time.Time{}, fmt.Errorf("create output dir: %w", err)
	}

	body, lastMod, err := f.Source.Download(ctx, uid, version)
	if err != nil {
		return 0, time.Time{}, err
	}
	defer body.Close()

	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("create archive: %w", err)
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(file, body, buf); err != nil {
		file.Close()
		os.Remove(target)
		return 0, time.Time{}, fmt.Errorf("stream archive: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(target)
		return 0, time.Time{}, fmt.Errorf("close archive: %w", err)
	}

	produced := lastMod
	if produced.IsZero() {
		produced = time.Now().UTC()
	}
	f.Log.Info().Int("uid", uid).Str("version", version).Str("file", target).Msg("downloaded archive")
	return Downloaded, produced, nil
}
