package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/xeptore/qoget/bandcamp"
	"github.com/xeptore/qoget/catalog"
	"github.com/xeptore/qoget/config"
	"github.com/xeptore/qoget/constant"
	"github.com/xeptore/qoget/downloader"
	"github.com/xeptore/qoget/httputil"
	"github.com/xeptore/qoget/log"
	"github.com/xeptore/qoget/qobuz"
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "qoget",
		Version: constant.Version,
		Metadata: map[string]any{
			"compiled_at": constant.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "Mirror purchased music catalogs into a local directory",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:      "sync",
				Usage:     "Sync purchased music to a local directory",
				ArgsUsage: "<target-dir>",
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Preview what would be downloaded without downloading",
					},
				},
				Action: runSync,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func runSync(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env file: %v", err)
		}
		logger.Debug().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	targetDir := cmd.Args().First()
	if targetDir == "" {
		return errors.New("target directory argument is required")
	}

	targetDir, err = filepath.Abs(targetDir)
	if nil != err {
		return fmt.Errorf("resolve target directory: %v", err)
	}

	if err := os.MkdirAll(targetDir, 0o755); nil != err {
		return fmt.Errorf("create target directory: %v", err)
	}

	dryRun := cmd.Bool("dry-run")

	if conf.Qobuz.State() == config.QobuzNotConfigured && !conf.Bandcamp.Configured() {
		logger.Error().
			Str("config_path", config.DefaultPath()).
			Msg("No service is configured. Add a [qobuz] or [bandcamp] section to the config file or set the corresponding environment variables.")

		return exitCodeError(1)
	}

	var failures int

	if conf.Qobuz.State() != config.QobuzNotConfigured {
		n, err := syncQobuz(ctx, logger, conf.Qobuz, targetDir, dryRun)
		if nil != err {
			return err
		}
		failures += n
	}

	if conf.Bandcamp.Configured() {
		n, err := syncBandcamp(ctx, logger, conf.Bandcamp, targetDir, dryRun)
		if nil != err {
			return err
		}
		failures += n
	}

	if failures > 0 {
		return exitCodeError(1)
	}

	return nil
}

// syncQobuz runs the Qobuz side of the sync and returns the number of failed
// downloads.
func syncQobuz(
	ctx context.Context,
	logger zerolog.Logger,
	qconf config.Qobuz,
	targetDir string,
	dryRun bool,
) (int, error) {
	if qconf.State() == config.QobuzIncomplete {
		if err := config.PromptQobuzCredentials(&qconf); nil != err {
			return 0, fmt.Errorf("resolve qobuz credentials: %w", err)
		}
	}

	creds := qobuz.Credentials{AppID: qconf.AppID, AppSecret: qconf.AppSecret}
	if creds.AppID == "" || creds.AppSecret == "" {
		logger.Info().Msg("Extracting app credentials from Qobuz web player")
		extracted, err := qobuz.ExtractCredentials(ctx, logger)
		if nil != err {
			return 0, fmt.Errorf("extract qobuz app credentials: %w", err)
		}
		creds = *extracted
	}

	auth, err := qobuz.Login(ctx, logger, creds.AppID, qconf.Username, qconf.Password)
	if nil != err {
		if errors.Is(err, qobuz.ErrInvalidCredentials) {
			logger.Error().Msg("Qobuz login failed. Check the configured username and password.")
			return 0, exitCodeError(2)
		}

		return 0, fmt.Errorf("login to qobuz: %w", err)
	}
	logger.Info().Uint64("user_id", auth.UserID).Msg("Logged in to Qobuz")

	client := qobuz.NewClient(creds, auth.Token)

	purchases, err := client.GetPurchases(ctx, logger)
	if nil != err {
		return 0, fmt.Errorf("fetch qobuz purchases: %w", err)
	}
	logger.Info().
		Int("albums", len(purchases.Albums)).
		Int("standalone_tracks", len(purchases.Tracks)).
		Msg("Fetched purchases")

	for i, album := range purchases.Albums {
		if nil != album.Tracks {
			continue
		}
		full, err := client.GetAlbum(ctx, logger, album.ID)
		if nil != err {
			return 0, fmt.Errorf("fetch album %s: %w", album.ID, err)
		}
		purchases.Albums[i].Tracks = full.Tracks
	}

	tasks := catalog.CollectTasks(*purchases, targetDir, catalog.OutcomeMP3.Ext())
	existing := catalog.ScanExisting(tasks)
	plan := catalog.BuildSyncPlan(tasks, existing, dryRun)

	logger.Info().
		Int("to_download", len(plan.Downloads)).
		Int("skipped", len(plan.Skipped)).
		Int("total", plan.TotalTracks).
		Msg("Sync plan built")

	if dryRun {
		printDryRunPlan(plan)
		return 0, nil
	}

	if len(plan.Downloads) == 0 {
		logger.Info().Msg("Qobuz library is up to date")
		return 0, nil
	}

	pw := progress.NewWriter()
	pw.SetOutputWriter(os.Stderr)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	go pw.Render()

	tracker := &progress.Tracker{ //nolint:exhaustruct
		Message: "Downloading tracks",
		Total:   int64(len(plan.Downloads)),
		Units:   progress.UnitsDefault,
	}
	pw.AppendTracker(tracker)

	result, err := downloader.Execute(
		ctx,
		logger,
		client,
		&http.Client{}, //nolint:exhaustruct
		plan,
		func(catalog.DownloadTask, error) { tracker.Increment(1) },
	)
	tracker.MarkAsDone()
	pw.Stop()
	for pw.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}

	if nil != err {
		if httputil.IsAuthStatus(err) {
			logger.Error().Err(err).Msg("Qobuz session expired during download")
			return len(result.Failed), exitCodeError(2)
		}

		return len(result.Failed), fmt.Errorf("execute qobuz downloads: %w", err)
	}

	printQobuzSummary(result)

	return len(result.Failed), nil
}

func printDryRunPlan(plan catalog.SyncPlan) {
	var wouldDownload, alreadySynced int
	for _, skip := range plan.Skipped {
		switch skip.Reason {
		case catalog.SkipDryRun:
			fmt.Println(skip.TargetPath)
			wouldDownload++
		case catalog.SkipAlreadyExists:
			alreadySynced++
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stderr)
	t.AppendHeader(table.Row{"Would Download", "Already Synced"})
	t.AppendRow(table.Row{wouldDownload, alreadySynced})
	t.Render()
}

func printQobuzSummary(result catalog.SyncResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stderr)
	t.AppendHeader(table.Row{"Downloaded", "FLAC Fallbacks", "Skipped", "Failed"})
	t.AppendRow(table.Row{len(result.Succeeded), result.FallbackCount, len(result.Skipped), len(result.Failed)})
	t.Render()

	if len(result.Failed) > 0 {
		ft := table.NewWriter()
		ft.SetOutputMirror(os.Stderr)
		ft.AppendHeader(table.Row{"Album", "Track", "Error"})
		for _, failure := range result.Failed {
			ft.AppendRow(table.Row{failure.Task.Album.Title, failure.Task.Track.Title, failure.Error})
		}
		ft.Render()
	}
}

// syncBandcamp runs the Bandcamp side of the sync and returns the number of
// failed items.
func syncBandcamp(
	ctx context.Context,
	logger zerolog.Logger,
	bconf config.Bandcamp,
	targetDir string,
	dryRun bool,
) (int, error) {
	client := bandcamp.NewClient(bconf.IdentityCookie)

	fanID, err := client.VerifyAuth(ctx, logger)
	if nil != err {
		if httputil.IsAuthStatus(err) {
			logger.Error().Msg("Bandcamp authentication failed. Update BANDCAMP_IDENTITY or the [bandcamp] identity_cookie config value.")
			return 0, exitCodeError(2)
		}

		return 0, fmt.Errorf("verify bandcamp auth: %w", err)
	}
	logger.Info().Uint64("fan_id", fanID).Msg("Authenticated with Bandcamp")

	purchases, err := client.GetPurchases(ctx, logger, fanID)
	if nil != err {
		return 0, fmt.Errorf("fetch bandcamp purchases: %w", err)
	}
	logger.Info().Int("items", len(purchases.Items)).Msg("Fetched collection")

	outcome, err := bandcamp.ExecuteSync(ctx, logger, client, purchases, targetDir, dryRun)
	if nil != err {
		return len(outcome.Failed), fmt.Errorf("execute bandcamp sync: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stderr)
	if dryRun {
		t.AppendHeader(table.Row{"Would Download", "Already Synced"})
		t.AppendRow(table.Row{outcome.WouldDownload, outcome.Skipped})
	} else {
		t.AppendHeader(table.Row{"Downloaded Tracks", "Skipped Items", "Failed Items"})
		t.AppendRow(table.Row{outcome.Downloaded, outcome.Skipped, len(outcome.Failed)})
	}
	t.Render()

	if len(outcome.Failed) > 0 {
		ft := table.NewWriter()
		ft.SetOutputMirror(os.Stderr)
		ft.AppendHeader(table.Row{"Item", "Error"})
		for _, failure := range outcome.Failed {
			ft.AppendRow(table.Row{failure.Description, failure.Error})
		}
		ft.Render()
	}

	return len(outcome.Failed), nil
}
