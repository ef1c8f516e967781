// Package resolver turns free-text app names or archive filenames into
// manifest entries, backed by a disk-cached copy of the remote catalog.
package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gotarr/sbmirror/internal/splunkbase"
	"github.com/gotarr/sbmirror/internal/util"
)

// CatalogSource is the remote surface the resolver needs.
type CatalogSource interface {
	Catalog(ctx context.Context) ([]splunkbase.CatalogEntry, error)
	Detail(ctx context.Context, uid int) (splunkbase.CatalogEntry, error)
	Search(ctx context.Context, query string) ([]splunkbase.CatalogEntry, error)
	LatestVersion(ctx context.Context, uid int) (string, error)
}

// Resolution is one successfully resolved app, ready to merge into the
// manifest. Source records which lookup path matched.
type Resolution struct {
	UID     int
	Name    string
	AppID   string
	Version string
	Source  string // override, catalog, search, archive
}

type Resolver struct {
	Source    CatalogSource
	CachePath string
	TTL       time.Duration
	Overrides map[string]int // normalized name -> uid
	Log       zerolog.Logger
}

// Normalize strips case and separators so "Splunk Add-on" matches
// "splunk_addon".
func Normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch r {
		case ' ', '-', '_', '.':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveNames resolves free-text names: override map first, then the
// cached catalog (exact match before substring), then a remote search.
func (r *Resolver) ResolveNames(ctx context.Context, names []string) ([]Resolution, []error) {
	var out []Resolution
	var errs []error
	for _, name := range names {
		res, err := r.resolveName(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %q: %w", name, err))
			continue
		}
		out = append(out, res)
	}
	return out, errs
}

func (r *Resolver) resolveName(ctx context.Context, name string) (Resolution, error) {
	norm := Normalize(name)
	if norm == "" {
		return Resolution{}, fmt.Errorf("empty name")
	}

	if uid, ok := r.Overrides[norm]; ok {
		res, err := r.fromUID(ctx, uid)
		if err != nil {
			return Resolution{}, err
		}
		res.Source = "override"
		return res, nil
	}

	entries, err := r.catalog(ctx, false)
	if err != nil {
		r.Log.Warn().Err(err).Msg("catalog unavailable, falling back to search")
	} else {
		if entry, ok := matchCatalog(entries, norm); ok {
			return r.finish(ctx, entry, "catalog")
		}
	}

	results, err := r.Source.Search(ctx, name)
	if err != nil {
		return Resolution{}, err
	}
	if len(results) == 0 {
		return Resolution{}, fmt.Errorf("no match")
	}
	best := results[0]
	for _, entry := range results {
		if Normalize(entry.Title) == norm || Normalize(entry.AppID) == norm {
			best = entry
			break
		}
	}
	return r.finish(ctx, best, "search")
}

// matchCatalog prefers an exact normalized title or appid match and falls
// back to a unique-enough substring match.
func matchCatalog(entries []splunkbase.CatalogEntry, norm string) (splunkbase.CatalogEntry, bool) {
	for _, entry := range entries {
		if Normalize(entry.Title) == norm || Normalize(entry.AppID) == norm {
			return entry, true
		}
	}
	for _, entry := range entries {
		if strings.Contains(Normalize(entry.Title), norm) || strings.Contains(Normalize(entry.AppID), norm) {
			return entry, true
		}
	}
	return splunkbase.CatalogEntry{}, false
}

func (r *Resolver) fromUID(ctx context.Context, uid int) (Resolution, error) {
	detail, err := r.Source.Detail(ctx, uid)
	if err != nil {
		return Resolution{}, err
	}
	return r.finish(ctx, detail, "")
}

func (r *Resolver) finish(ctx context.Context, entry splunkbase.CatalogEntry, source string) (Resolution, error) {
	version, err := r.Source.LatestVersion(ctx, entry.UID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		UID:     entry.UID,
		Name:    entry.Title,
		AppID:   entry.AppID,
		Version: version,
		Source:  source,
	}, nil
}

// ResolveArchives synthesizes entries from existing archive files named by
// the {uid}_{version}.tgz convention. Slug-prefixed filenames go through
// name resolution; the version always comes from the filename.
func (r *Resolver) ResolveArchives(ctx context.Context, dir string) ([]Resolution, []error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+util.ArchiveExt))
	if err != nil {
		return nil, []error{err}
	}
	var out []Resolution
	var errs []error
	for _, path := range matches {
		uid, name, version, ok := util.ParseArchiveName(path)
		if !ok {
			r.Log.Warn().Str("file", path).Msg("filename does not match archive convention, skipping")
			continue
		}
		if uid != 0 {
			res, err := r.fromUID(ctx, uid)
			if err != nil {
				errs = append(errs, fmt.Errorf("resolve %s: %w", filepath.Base(path), err))
				continue
			}
			res.Version = version
			res.Source = "archive"
			out = append(out, res)
			continue
		}
		res, err := r.resolveName(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", filepath.Base(path), err))
			continue
		}
		res.Version = version
		res.Source = "archive"
		out = append(out, res)
	}
	return out, errs
}

// Dedupe drops resolutions whose uid is already tracked or appeared
// earlier in the same batch, logging a notice for each skip.
func (r *Resolver) Dedupe(resolutions []Resolution, tracked map[int]bool) []Resolution {
	seen := map[int]bool{}
	var out []Resolution
	for _, res := range resolutions {
		if tracked[res.UID] {
			r.Log.Info().Int("uid", res.UID).Str("name", res.Name).Msg("already in manifest, skipping")
			continue
		}
		if seen[res.UID] {
			r.Log.Info().Int("uid", res.UID).Str("name", res.Name).Msg("duplicate in batch, skipping")
			continue
		}
		seen[res.UID] = true
		out = append(out, res)
	}
	return out
}

// Refresh forces a catalog re-fetch regardless of cache freshness.
func (r *Resolver) Refresh(ctx context.Context) (int, error) {
	entries, err := r.catalog(ctx, true)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (r *Resolver) catalog(ctx context.Context, force bool) ([]splunkbase.CatalogEntry, error) {
	if !force {
		if cached, ok := r.readCache(); ok {
			return cached, nil
		}
	}
	entries, err := r.Source.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.writeCache(entries); err != nil {
		r.Log.Warn().Err(err).Str("path", r.CachePath).Msg("could not write catalog cache")
	}
	return entries, nil
}

func (r *Resolver) readCache() ([]splunkbase.CatalogEntry, bool) {
	if r.CachePath == "" {
		return nil, false
	}
	cache, err := loadCache(r.CachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.Log.Warn().Err(err).Str("path", r.CachePath).Msg("ignoring unreadable catalog cache")
		}
		return nil, false
	}
	ttl := r.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	if time.Since(cache.FetchedAt) > ttl {
		return nil, false
	}
	return cache.Entries, true
}
