package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gotarr/sbmirror/internal/config"
	"github.com/gotarr/sbmirror/internal/credentials"
	"github.com/gotarr/sbmirror/internal/engine"
	"github.com/gotarr/sbmirror/internal/fetch"
	"github.com/gotarr/sbmirror/internal/lock"
	"github.com/gotarr/sbmirror/internal/logging"
	"github.com/gotarr/sbmirror/internal/manifest"
	"github.com/gotarr/sbmirror/internal/mirror"
	"github.com/gotarr/sbmirror/internal/notify"
	"github.com/gotarr/sbmirror/internal/resolver"
	"github.com/gotarr/sbmirror/internal/splunkbase"
	"github.com/gotarr/sbmirror/internal/storage"
	"github.com/gotarr/sbmirror/internal/util"
	"github.com/gotarr/sbmirror/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	ManifestPath string
	OutDir       string
	BackupKeep   int
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{BackupKeep: -1}

	rootCmd := &cobra.Command{
		Use:   "sbmirror",
		Short: "Keep a local mirror of Splunkbase apps in sync",
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&overrides.ManifestPath, "manifest", "", "Path to the app manifest")
	rootCmd.PersistentFlags().StringVarP(&overrides.OutDir, "outdir", "o", "", "Output directory for downloaded archives")
	rootCmd.PersistentFlags().IntVar(&overrides.BackupKeep, "backup-keep", -1, "Manifest backups to retain (0 disables)")

	rootCmd.AddCommand(newSyncCmd(root, overrides))
	rootCmd.AddCommand(newValidateCmd(root, overrides))
	rootCmd.AddCommand(newReformatCmd(root, overrides))
	rootCmd.AddCommand(newAddCmd(root, overrides))
	rootCmd.AddCommand(newCatalogCmd(root, overrides))
	rootCmd.AddCommand(newVerifyCmd(root, overrides))
	rootCmd.AddCommand(newMirrorCmd(root, overrides))
	rootCmd.AddCommand(newLoginCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSyncCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var (
		dryRun      bool
		fixMissing  bool
		only        []int
		exclude     []int
		summary     bool
		reportFile  string
		hash        bool
		failOnError bool
		promptLogin bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Check every tracked app and download new releases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if fixMissing {
				cfg.Sync.FixMissing = true
			}
			if hash {
				cfg.Sync.Hash = true
			}
			if failOnError {
				cfg.Sync.FailOnError = true
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)

			guard, err := lock.Acquire(cfg.Global.LockFile)
			if err != nil {
				return err
			}
			defer guard.Release()

			ok, err := util.InWindow(time.Now(), cfg.Sync.WindowStart, cfg.Sync.WindowEnd, cfg.Sync.Timezone)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("current time is outside the configured sync window")
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			client := newRemote(cfg)
			if err := login(ctx, cfg, client, logger, promptLogin); err != nil {
				return err
			}

			store := manifest.NewStore(cfg.Manifest.Path, cfg.Manifest.BackupKeep)
			eng := &engine.Engine{
				Store:      store,
				Remote:     client,
				Fetcher:    fetch.New(client, logger),
				Log:        logger,
				OutDir:     cfg.Sync.OutDir,
				DryRun:     dryRun,
				FixMissing: cfg.Sync.FixMissing,
				Hash:       cfg.Sync.Hash,
				Include:    uidSet(only),
				Exclude:    uidSet(exclude),
			}

			start := time.Now()
			res, runErr := eng.Run(ctx)
			sendNotifications(cfg, logger, res, start, runErr)
			if runErr != nil {
				return runErr
			}

			if summary {
				engine.RenderTable(os.Stdout, res)
			}
			if reportFile != "" {
				if err := engine.WriteReport(reportFile, res); err != nil {
					logger.Error().Err(err).Str("path", reportFile).Msg("failed to write report")
				} else {
					logger.Info().Str("path", reportFile).Msg("wrote report")
				}
			}
			if cfg.Sync.FailOnError && res.Summary.Errors > 0 {
				return fmt.Errorf("%d record(s) errored", res.Summary.Errors)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute decisions without downloading or mutating the manifest")
	cmd.Flags().BoolVar(&fixMissing, "fix-missing", false, "Re-download archives whose manifest entry is current but whose file is absent")
	cmd.Flags().IntSliceVar(&only, "only", nil, "Restrict the pass to these uids")
	cmd.Flags().IntSliceVar(&exclude, "exclude", nil, "Skip these uids")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print a table of update decisions")
	cmd.Flags().StringVar(&reportFile, "report", "", "Write a JSON report with per-app decisions")
	cmd.Flags().BoolVar(&hash, "hash", false, "Include sha256 of present archives in the report")
	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "Exit non-zero when any record errored")
	cmd.Flags().BoolVar(&promptLogin, "prompt-login", false, "Prompt for credentials even when the credential file exists")

	return cmd
}

func newValidateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest without touching the remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			store := manifest.NewStore(cfg.Manifest.Path, cfg.Manifest.BackupKeep)
			records, err := store.Load()
			if err != nil {
				return err
			}
			res := manifest.Validate(records)
			for _, issue := range res.Issues {
				fmt.Printf("%s [index=%d uid=%d] %s\n", issue.Level, issue.Index, issue.UID, issue.Message)
			}
			fmt.Printf("Records: %d | valid: %d | warnings: %d | invalid: %d\n",
				len(records), res.Valid, res.Warnings, res.Invalid)
			if res.Invalid > 0 {
				return fmt.Errorf("%d invalid record(s)", res.Invalid)
			}
			return nil
		},
	}
}

func newReformatCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var byUID bool
	var check bool

	cmd := &cobra.Command{
		Use:   "reformat",
		Short: "Canonicalize the manifest (sort, trim, normalize timestamps)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			store := manifest.NewStore(cfg.Manifest.Path, cfg.Manifest.BackupKeep)
			records, err := store.Load()
			if err != nil {
				return err
			}
			canonical := manifest.Reformat(records, manifest.ReformatOptions{ByUID: byUID})
			if check {
				before, err := os.ReadFile(cfg.Manifest.Path)
				if err != nil {
					return err
				}
				after, err := manifest.Encode(canonical)
				if err != nil {
					return err
				}
				if string(before) != string(after) {
					return fmt.Errorf("manifest is not in canonical form")
				}
				fmt.Println("manifest is canonical")
				return nil
			}
			return store.Write(canonical)
		},
	}

	cmd.Flags().BoolVar(&byUID, "by-uid", false, "Sort by uid instead of name")
	cmd.Flags().BoolVar(&check, "check", false, "Report whether the manifest is canonical without rewriting it")
	return cmd
}

func newAddCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var fromDir string

	cmd := &cobra.Command{
		Use:   "add [name]...",
		Short: "Resolve app names or archive files and add them to the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && fromDir == "" {
				return fmt.Errorf("provide app names or --from-dir")
			}
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)

			guard, err := lock.Acquire(cfg.Global.LockFile)
			if err != nil {
				return err
			}
			defer guard.Release()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			client := newRemote(cfg)
			if err := login(ctx, cfg, client, logger, false); err != nil {
				return err
			}
			res := newResolver(cfg, client, logger)

			var resolutions []resolver.Resolution
			var errs []error
			if fromDir != "" {
				resolutions, errs = res.ResolveArchives(ctx, fromDir)
			} else {
				resolutions, errs = res.ResolveNames(ctx, args)
			}
			for _, rerr := range errs {
				logger.Warn().Err(rerr).Msg("resolution failed")
			}

			store := manifest.NewStore(cfg.Manifest.Path, cfg.Manifest.BackupKeep)
			records, err := store.Load()
			if err != nil {
				if !errors.Is(err, manifest.ErrNotFound) {
					return err
				}
				records = nil
			}
			tracked := map[int]bool{}
			for _, rec := range records {
				tracked[rec.UID] = true
			}

			resolutions = res.Dedupe(resolutions, tracked)
			if len(resolutions) == 0 {
				logger.Info().Msg("nothing to add")
				if len(errs) > 0 {
					return fmt.Errorf("%d name(s) could not be resolved", len(errs))
				}
				return nil
			}

			now := manifest.FormatTime(time.Now().UTC())
			for _, r := range resolutions {
				records = append(records, manifest.AppRecord{
					Name:        r.Name,
					UID:         r.UID,
					AppID:       r.AppID,
					Version:     r.Version,
					UpdatedTime: now,
				})
				logger.Info().Int("uid", r.UID).Str("name", r.Name).Str("version", r.Version).Str("source", r.Source).Msg("added")
			}
			if err := store.Write(manifest.Reformat(records, manifest.ReformatOptions{})); err != nil {
				return err
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d name(s) could not be resolved", len(errs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromDir, "from-dir", "", "Resolve archives in this directory instead of names")
	return cmd
}

func newCatalogCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Catalog cache utilities",
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Re-fetch the remote catalog into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			client := newRemote(cfg)
			if err := login(ctx, cfg, client, logger, false); err != nil {
				return err
			}
			count, err := newResolver(cfg, client, logger).Refresh(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("apps", count).Str("path", cfg.Catalog.CachePath).Msg("catalog cache refreshed")
			return nil
		},
	}

	cmd.AddCommand(refresh)
	return cmd
}

func newVerifyCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every stored archive is a readable gzip tarball",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)

			matches, err := filepath.Glob(filepath.Join(cfg.Sync.OutDir, "*"+util.ArchiveExt))
			if err != nil {
				return err
			}
			bad := 0
			for _, path := range matches {
				if err := fetch.Verify(path); err != nil {
					logger.Error().Err(err).Str("file", path).Msg("archive failed verification")
					bad++
					continue
				}
				logger.Debug().Str("file", path).Msg("archive ok")
			}
			logger.Info().Int("checked", len(matches)).Int("bad", bad).Msg("verification complete")
			if bad > 0 {
				return fmt.Errorf("%d archive(s) failed verification", bad)
			}
			return nil
		},
	}
}

func newMirrorCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Mirror storage utilities",
	}

	push := &cobra.Command{
		Use:   "push",
		Short: "Upload local archives and the manifest to the mirror backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)

			store, err := storage.New(cfg.Mirror)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			pusher := &mirror.Pusher{
				Store:        store,
				OutDir:       cfg.Sync.OutDir,
				ManifestPath: cfg.Manifest.Path,
				Prefix:       cfg.Mirror.Prefix,
				Parallelism:  cfg.Mirror.Parallelism,
				Log:          logger,
			}
			res, err := pusher.Push(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("uploaded", res.Uploaded).Int("skipped", res.Skipped).Msg("mirror push complete")
			return nil
		},
	}

	cmd.AddCommand(push)
	return cmd
}

func newLoginCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against Splunkbase and optionally store credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if save {
				cfg.Credentials.Save = true
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			client := newRemote(cfg)
			if err := login(ctx, cfg, client, logger, true); err != nil {
				return err
			}
			logger.Info().Msg("login succeeded")
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "Persist credentials to the credential file")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sbmirror %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	if overrides.ManifestPath != "" {
		cfg.Manifest.Path = overrides.ManifestPath
	}
	if overrides.OutDir != "" {
		cfg.Sync.OutDir = overrides.OutDir
	}
	if overrides.BackupKeep >= 0 {
		cfg.Manifest.BackupKeep = overrides.BackupKeep
	}
}

func newRemote(cfg *config.Config) *splunkbase.Client {
	httpClient := &http.Client{Timeout: cfg.Splunkbase.RequestTimeout}
	return splunkbase.New(httpClient, splunkbase.Options{
		WWWURL:       cfg.Splunkbase.WWWURL,
		APIURL:       cfg.Splunkbase.APIURL,
		UserAgent:    cfg.Splunkbase.UserAgent,
		RetryCount:   cfg.Splunkbase.RetryCount,
		RetryBackoff: cfg.Splunkbase.RetryBackoff,
	})
}

func newResolver(cfg *config.Config, client *splunkbase.Client, logger zerolog.Logger) *resolver.Resolver {
	overrides := make(map[string]int, len(cfg.Catalog.Overrides))
	for name, uid := range cfg.Catalog.Overrides {
		overrides[resolver.Normalize(name)] = uid
	}
	return &resolver.Resolver{
		Source:    client,
		CachePath: cfg.Catalog.CachePath,
		TTL:       cfg.Catalog.TTL,
		Overrides: overrides,
		Log:       logger,
	}
}

// login authenticates using the credential file, prompting when the file
// is absent, invalid, or rejected by the remote.
func login(ctx context.Context, cfg *config.Config, client *splunkbase.Client, logger zerolog.Logger, forcePrompt bool) error {
	creds, err := credentials.Load(cfg.Credentials.Path)
	prompted := false
	if err != nil || !creds.Valid() || forcePrompt {
		if err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", cfg.Credentials.Path).Msg("could not read credential file")
		}
		creds, err = credentials.Prompt(os.Stdin, os.Stderr)
		if err != nil {
			return err
		}
		prompted = true
	}

	for attempt := 0; ; attempt++ {
		err = client.Login(ctx, creds.Username, creds.Password)
		if err == nil {
			break
		}
		if !errors.Is(err, splunkbase.ErrAuthRejected) || attempt >= 2 {
			return err
		}
		logger.Error().Msg("authentication rejected, please try again")
		creds, err = credentials.Prompt(os.Stdin, os.Stderr)
		if err != nil {
			return err
		}
		prompted = true
	}

	if prompted && cfg.Credentials.Save {
		if err := credentials.Save(cfg.Credentials.Path, creds); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Credentials.Path).Msg("could not save credentials")
		}
	}
	return nil
}

func uidSet(uids []int) map[int]bool {
	if len(uids) == 0 {
		return nil
	}
	set := make(map[int]bool, len(uids))
	for _, uid := range uids {
		set[uid] = true
	}
	return set
}

func sendNotifications(cfg *config.Config, logger zerolog.Logger, res *engine.Result, start time.Time, runErr error) {
	notifier := notify.FromConfig(cfg.Notifications, &http.Client{Timeout: 10 * time.Second})
	if len(notifier.Targets) == 0 {
		return
	}
	event := notify.Event{
		Type:      "sync",
		Status:    "success",
		Manifest:  cfg.Manifest.Path,
		StartedAt: start,
		EndedAt:   time.Now(),
		Duration:  time.Since(start).String(),
	}
	if res != nil {
		event.Total = res.Summary.Total
		event.ToUpdate = res.Summary.ToUpdate
		event.UpToDate = res.Summary.UpToDate
		event.Errors = res.Summary.Errors
		event.MissingFiles = res.Summary.MissingFiles
		if res.Summary.Errors > 0 {
			event.Status = "partial"
		}
	}
	if runErr != nil {
		event.Status = "failed"
		event.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := notifier.Notify(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("notification failed")
	}
}
