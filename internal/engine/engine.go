// Package engine drives the per-record update decisions for a sync pass.
// Records are evaluated strictly in manifest order; every committed
// mutation is durable before the next record is touched.
package engine

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/gotarr/sbmirror/internal/fetch"
	"github.com/gotarr/sbmirror/internal/manifest"
	"github.com/gotarr/sbmirror/internal/util"
)

type Action string

const (
	ActionSkip           Action = "skip"
	ActionPlanUpdate     Action = "plan-update"
	ActionUpdated        Action = "updated"
	ActionPlanRedownload Action = "plan-redownload"
	ActionRedownloaded   Action = "redownloaded"
	ActionError          Action = "error"
)

// Decision is the per-record outcome of one pass. It is reporting state
// only and never persisted to the manifest.
type Decision struct {
	UID         int    `json:"uid"`
	Name        string `json:"name,omitempty"`
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	Action      Action `json:"action"`
	Reason      string `json:"reason"`
	FilePresent bool   `json:"file_present"`
	FilePath    string `json:"file_path,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
}

type Summary struct {
	Total        int `json:"total"`
	ToUpdate     int `json:"to_update"`
	UpToDate     int `json:"up_to_date"`
	Errors       int `json:"errors"`
	MissingFiles int `json:"missing_files"`
}

type Result struct {
	GeneratedAt time.Time  `json:"generated_at"`
	Summary     Summary    `json:"summary"`
	Decisions   []Decision `json:"results"`
}

// Versions resolves the latest published version for an app.
type Versions interface {
	LatestVersion(ctx context.Context, uid int) (string, error)
}

type Engine struct {
	Store   *manifest.Store
	Remote  Versions
	Fetcher *fetch.Fetcher
	Log     zerolog.Logger

	OutDir     string
	DryRun     bool
	FixMissing bool
	Hash       bool
	Include    map[int]bool // when non-empty, only these uids are evaluated
	Exclude    map[int]bool
}

// Run executes one full sync pass. Manifest-level failures (load or
// persist) abort the pass; per-record failures only increment the error
// counter.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	records, err := e.Store.Load()
	if err != nil {
		return nil, err
	}

	res := &Result{GeneratedAt: time.Now().UTC()}
	for i := range records {
		rec := records[i]
		if rec.UID == 0 {
			e.Log.Warn().Int("index", i).Msg("skipping entry without uid")
			continue
		}
		if len(e.Include) > 0 && !e.Include[rec.UID] {
			continue
		}
		if e.Exclude[rec.UID] {
			continue
		}

		decision, err := e.evaluate(ctx, &records, rec)
		if err != nil {
			return nil, err
		}
		res.Summary.Total++
		switch decision.Action {
		case ActionSkip:
			res.Summary.UpToDate++
		case ActionPlanUpdate, ActionUpdated:
			res.Summary.ToUpdate++
		case ActionPlanRedownload, ActionRedownloaded:
			res.Summary.UpToDate++
		case ActionError:
			res.Summary.Errors++
			if decision.Latest != "" && decision.Latest != decision.Current {
				res.Summary.ToUpdate++
			}
		}
		if !decision.FilePresent {
			res.Summary.MissingFiles++
		}
		if e.Hash && decision.FilePresent && decision.FilePath != "" {
			if sum, err := fetch.Hash(decision.FilePath); err == nil {
				decision.SHA256 = sum
			} else {
				e.Log.Warn().Err(err).Str("file", decision.FilePath).Msg("hash failed")
			}
		}
		res.Decisions = append(res.Decisions, decision)
	}

	e.Log.Info().
		Int("total", res.Summary.Total).
		Int("to_update", res.Summary.ToUpdate).
		Int("up_to_date", res.Summary.UpToDate).
		Int("errors", res.Summary.Errors).
		Int("missing_files", res.Summary.MissingFiles).
		Msg("sync pass complete")
	return res, nil
}

// evaluate classifies one record and performs its side effects. A non-nil
// error is a manifest persistence failure and fatal for the run.
func (e *Engine) evaluate(ctx context.Context, records *[]manifest.AppRecord, rec manifest.AppRecord) (Decision, error) {
	decision := Decision{UID: rec.UID, Name: rec.Name, Current: rec.Version}
	decision.FilePath = util.ArchivePath(e.OutDir, rec.UID, rec.Version)
	decision.FilePresent = fileExists(decision.FilePath)

	latest, err := e.Remote.LatestVersion(ctx, rec.UID)
	if err != nil {
		e.Log.Warn().Err(err).Int("uid", rec.UID).Str("current", rec.Version).Msg("could not retrieve latest version")
		decision.Action = ActionError
		decision.Reason = "latest version not available"
		return decision, nil
	}
	decision.Latest = latest

	if latest != rec.Version {
		e.Log.Info().Int("uid", rec.UID).Str("current", rec.Version).Str("latest", latest).Msg("update available")
		if e.DryRun {
			decision.Action = ActionPlanUpdate
			decision.Reason = "dry-run"
			return decision, nil
		}
		_, produced, err := e.Fetcher.Fetch(ctx, rec.UID, latest, e.OutDir)
		if err != nil {
			e.Log.Error().Err(err).Int("uid", rec.UID).Str("version", latest).Msg("download failed")
			decision.Action = ActionError
			decision.Reason = "download failed"
			return decision, nil
		}
		if err := e.commit(records, rec.UID, latest, produced); err != nil {
			return decision, err
		}
		decision.Action = ActionUpdated
		decision.Reason = "downloaded and manifest updated"
		decision.FilePath = util.ArchivePath(e.OutDir, rec.UID, latest)
		decision.FilePresent = true
		return decision, nil
	}

	if !decision.FilePresent && e.FixMissing {
		if e.DryRun {
			decision.Action = ActionPlanRedownload
			decision.Reason = "dry-run"
			return decision, nil
		}
		_, produced, err := e.Fetcher.Fetch(ctx, rec.UID, rec.Version, e.OutDir)
		if err != nil {
			e.Log.Error().Err(err).Int("uid", rec.UID).Str("version", rec.Version).Msg("redownload failed")
			decision.Action = ActionError
			decision.Reason = "redownload failed"
			return decision, nil
		}
		// Version is unchanged; updated_time moves because the archive
		// was just verified present.
		if err := e.commit(records, rec.UID, rec.Version, produced); err != nil {
			return decision, err
		}
		decision.Action = ActionRedownloaded
		decision.Reason = "missing archive restored"
		decision.FilePresent = true
		return decision, nil
	}

	decision.Action = ActionSkip
	decision.Reason = "already up-to-date"
	return decision, nil
}

// commit applies the mutation in memory and persists the whole manifest
// atomically before the next record is evaluated.
func (e *Engine) commit(records *[]manifest.AppRecord, uid int, version string, produced time.Time) error {
	*records = manifest.Upsert(*records, uid, version, manifest.FormatTime(produced))
	return e.Store.Write(*records)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
