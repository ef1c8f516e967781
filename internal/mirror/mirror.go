// Package mirror pushes the local archive set and the manifest to a
// storage backend. Uploads run with bounded parallelism; the sync pass
// itself is never parallelized.
package mirror

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gotarr/sbmirror/internal/storage"
	"github.com/gotarr/sbmirror/internal/util"
)

type Pusher struct {
	Store        storage.Storage
	OutDir       string
	ManifestPath string
	Prefix       string
	Parallelism  int
	Log          zerolog.Logger
}

type PushResult struct {
	Uploaded int
	Skipped  int
}

// Push uploads every archive in the out dir matching the naming
// convention, plus the manifest. Objects already present with the same
// size are skipped.
func (p *Pusher) Push(ctx context.Context) (PushResult, error) {
	files, err := p.collect()
	if err != nil {
		return PushResult{}, err
	}

	var mu sync.Mutex
	var res PushResult

	eg, egCtx := errgroup.WithContext(ctx)
	limit := p.Parallelism
	if limit <= 0 {
		limit = 4
	}
	eg.SetLimit(limit)

	for _, file := range files {
		eg.Go(func() error {
			uploaded, err := p.pushOne(egCtx, file)
			if err != nil {
				return err
			}
			mu.Lock()
			if uploaded {
				res.Uploaded++
			} else {
				res.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Pusher) collect() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(p.OutDir, "*"+util.ArchiveExt))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		if _, _, _, ok := util.ParseArchiveName(m); ok {
			files = append(files, m)
		}
	}
	if p.ManifestPath != "" {
		if _, err := os.Stat(p.ManifestPath); err == nil {
			files = append(files, p.ManifestPath)
		}
	}
	return files, nil
}

func (p *Pusher) pushOne(ctx context.Context, file string) (bool, error) {
	info, err := os.Stat(file)
	if err != nil {
		return false, err
	}
	key := path.Join(p.Prefix, filepath.Base(file))

	remote, found, err := p.Store.Stat(ctx, key)
	if err != nil {
		return false, err
	}
	if found && remote.Size == info.Size() {
		p.Log.Debug().Str("key", key).Msg("already mirrored, skipping")
		return false, nil
	}

	src, err := os.Open(file)
	if err != nil {
		return false, err
	}
	defer src.Close()

	if err := p.Store.Put(ctx, key, src, info.Size()); err != nil {
		return false, err
	}
	p.Log.Info().Str("key", key).Int64("size", info.Size()).Msg("mirrored")
	return true, nil
}
