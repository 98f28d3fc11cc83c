// Package main provides the entry point for the contestian server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/gsm"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/codeGROOVE-dev/contestian/internal/ajl"
	"github.com/codeGROOVE-dev/contestian/internal/atcoder"
	"github.com/codeGROOVE-dev/contestian/internal/config"
	"github.com/codeGROOVE-dev/contestian/internal/contest"
	"github.com/codeGROOVE-dev/contestian/internal/discord"
	"github.com/codeGROOVE-dev/contestian/internal/registry"
	"github.com/codeGROOVE-dev/contestian/internal/results"
	"github.com/codeGROOVE-dev/contestian/internal/scheduler"
	"github.com/codeGROOVE-dev/contestian/internal/state"
	"github.com/codeGROOVE-dev/contestian/internal/trigger"
)

const (
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 15 * time.Second
	readyTimeout       = time.Minute
)

// Datastore keys of the persisted snapshots.
const (
	contestsKey = "contests"
	guildsKey   = "guilds"
	ajlKey      = "ajl"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Warn("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	exitCode := run(ctx, cancel)
	cancel()
	os.Exit(exitCode)
}

func run(ctx context.Context, cancel context.CancelFunc) int {
	cfg, err := loadConfig(ctx)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	slog.Info("configuration loaded",
		"has_discord_bot_token", cfg.DiscordBotToken != "",
		"has_atcoder_login", cfg.AtCoderUsername != "",
		"state_backend", cfg.StateBackend,
		"sheets_enabled", cfg.SheetsEnabled(),
		"reminder_interval", cfg.ReminderInterval,
		"reminder_window", cfg.ReminderWindow,
		"ajl_enabled", cfg.AJLEnabled(),
		"keyword_replies", len(cfg.Keywords))

	contestRepo, guildRepo, err := newRepositories(ctx, cfg)
	if err != nil {
		slog.Error("failed to create state repositories", "error", err)
		return 1
	}
	defer func() {
		for _, c := range []interface{ Close() error }{contestRepo, guildRepo} {
			if err := c.Close(); err != nil {
				slog.Warn("failed to close repository", "error", err)
			}
		}
	}()

	ac, err := atcoder.New(atcoder.Config{
		Username: cfg.AtCoderUsername,
		Password: cfg.AtCoderPassword,
		Timeout:  cfg.HTTPTimeout,
	})
	if err != nil {
		slog.Error("failed to create AtCoder client", "error", err)
		return 1
	}

	store := contest.NewStore(contest.StoreConfig{Repository: contestRepo, Feed: ac})
	if _, err := store.Load(ctx); err != nil {
		slog.Error("failed to load contests", "error", err)
		return 1
	}

	reg := registry.New(guildRepo, slog.Default())
	if err := reg.Load(ctx); err != nil {
		slog.Error("failed to load guild settings", "error", err)
		return 1
	}

	dc, err := discord.New(cfg.DiscordBotToken, cfg.HTTPTimeout, slog.Default())
	if err != nil {
		slog.Error("failed to create Discord client", "error", err)
		return 1
	}

	dc.EnableKeywordReplies(cfg.Keywords, cfg.KeywordReply)

	rankings, ajlRepo, err := newRankings(ctx, cfg, ac)
	if err != nil {
		slog.Error("failed to set up AJL rankings", "error", err)
		return 1
	}
	if ajlRepo != nil {
		defer func() {
			if err := ajlRepo.Close(); err != nil {
				slog.Warn("failed to close repository", "error", err)
			}
		}()
	}

	publisher := results.NewPublisher(results.Config{
		Source:      ac,
		Sheets:      newSheetWriter(ctx, cfg),
		Affiliation: cfg.Affiliation,
	})

	reminder := trigger.NewReminder(trigger.ReminderConfig{
		Contests:    store,
		Registry:    reg,
		Chat:        dc,
		Window:      cfg.ReminderWindow,
		MaxAttempts: cfg.ReminderMaxAttempts,
	})
	thread := trigger.NewThread(trigger.ThreadConfig{Contests: store, Registry: reg, Chat: dc})
	result := trigger.NewResult(trigger.ResultConfig{
		Contests: store,
		Registry: reg,
		Chat:     dc,
		Builder:  publisher,
		Delay:    cfg.ResultDelay,
		BaseURL:  atcoder.DefaultBaseURL,
	})

	sched, err := scheduler.New(scheduler.Config{
		Ready: dc.Ready(),
		Jobs:  jobs(cfg, store, reminder, thread, result),
	})
	if err != nil {
		slog.Error("failed to create scheduler", "error", err)
		return 1
	}

	slashCfg := discord.SlashConfig{
		Session:  dc.Session(),
		Channels: dc,
		Settings: reg,
		Contests: store,
		Results:  result,
	}
	if rankings != nil {
		slashCfg.Rankings = rankings
	}
	slash := discord.NewSlashCommandHandler(slashCfg)
	slash.SetupHandler()

	if err := dc.Open(); err != nil {
		slog.Error("failed to open Discord connection", "error", err)
		return 1
	}
	defer func() {
		if err := dc.Close(); err != nil {
			slog.Warn("failed to close Discord connection", "error", err)
		}
	}()

	if err := waitReady(ctx, dc.Ready()); err != nil {
		slog.Error("Discord session never became ready", "error", err)
		return 1
	}
	if err := slash.RegisterCommands(); err != nil {
		slog.Error("failed to register slash commands", "error", err)
		return 1
	}

	router := newRouter(store, reg, sched)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		slog.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		cancel()
		return 1
	}

	slog.Info("shutdown complete")
	return 0
}

func jobs(cfg config.ServerConfig, store Refresher, reminder, thread, result Runner) []scheduler.Job {
	return []scheduler.Job{
		{
			Name:     "refresh",
			Interval: cfg.RefreshInterval,
			Timeout:  5 * cfg.HTTPTimeout,
			Run: func(ctx context.Context) error {
				if _, err := store.Refresh(ctx); err != nil {
					return fmt.Errorf("refresh contests: %w", err)
				}
				return store.Save(ctx)
			},
		},
		{Name: "reminder", Interval: cfg.ReminderInterval, Timeout: 3 * cfg.HTTPTimeout, Run: reminder.Run},
		{Name: "thread", Interval: cfg.ThreadInterval, Timeout: 3 * cfg.HTTPTimeout, Run: thread.Run},
		// Result sheets need standings, predictor data and uploads.
		{Name: "result", Interval: cfg.ResultInterval, Timeout: 10 * cfg.HTTPTimeout, Run: result.Run},
	}
}

func waitReady(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(readyTimeout):
		return errors.New("timeout waiting for Discord ready event")
	}
}

func newRepositories(ctx context.Context, cfg config.ServerConfig) (
	state.Repository[[]contest.Contest], state.Repository[map[string]registry.GuildConfig], error,
) {
	if cfg.StateBackend == config.BackendDatastore {
		contests, err := state.NewFidoRepository[[]contest.Contest](ctx, cfg.DatastoreDB, contestsKey)
		if err != nil {
			return nil, nil, fmt.Errorf("contest repository: %w", err)
		}
		guilds, err := state.NewFidoRepository[map[string]registry.GuildConfig](ctx, cfg.DatastoreDB, guildsKey)
		if err != nil {
			contests.Close() //nolint:errcheck,gosec // best-effort cleanup
			return nil, nil, fmt.Errorf("guild repository: %w", err)
		}
		return contests, guilds, nil
	}
	return state.NewFileRepository[[]contest.Contest](cfg.ContestsFile, slog.Default()),
		state.NewFileRepository[map[string]registry.GuildConfig](cfg.GuildsFile, slog.Default()),
		nil
}

// newRankings returns a nil tracker when AJL tracking is off.
func newRankings(ctx context.Context, cfg config.ServerConfig, fetcher ajl.Fetcher) (*ajl.Tracker, state.Repository[ajl.Snapshot], error) {
	if !cfg.AJLEnabled() {
		return nil, nil, nil
	}
	season, err := ajl.ParseSeason(cfg.AJLSeason)
	if err != nil {
		return nil, nil, err
	}
	abbr, err := loadAbbreviations(cfg.AJLAbbreviationsFile)
	if err != nil {
		return nil, nil, err
	}

	var repo state.Repository[ajl.Snapshot]
	if cfg.StateBackend == config.BackendDatastore {
		repo, err = state.NewFidoRepository[ajl.Snapshot](ctx, cfg.DatastoreDB, ajlKey)
		if err != nil {
			return nil, nil, fmt.Errorf("ajl repository: %w", err)
		}
	} else {
		repo = state.NewFileRepository[ajl.Snapshot](cfg.AJLFile, slog.Default())
	}

	tracker := ajl.New(ajl.Config{
		Fetcher:       fetcher,
		Repo:          repo,
		Source:        ajl.Source{Year: cfg.AJLYear, Season: season},
		School:        cfg.AJLSchool,
		Abbreviations: abbr,
	})
	slog.Info("AJL rankings enabled", "year", cfg.AJLYear, "season", season, "school", cfg.AJLSchool)
	return tracker, repo, nil
}

// loadAbbreviations reads a YAML map of school name to display name.
func loadAbbreviations(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read school abbreviations: %w", err)
	}
	var abbr map[string]string
	if err := yaml.Unmarshal(data, &abbr); err != nil {
		return nil, fmt.Errorf("parse school abbreviations %s: %w", path, err)
	}
	return abbr, nil
}

// newSheetWriter returns nil when the spreadsheet mirror is off or unusable.
func newSheetWriter(ctx context.Context, cfg config.ServerConfig) results.SheetWriter {
	if !cfg.SheetsEnabled() {
		return nil
	}
	w, err := results.NewSheetsWriter(ctx, results.SheetsConfig{
		CredentialsFile: cfg.GoogleCredentialsFile,
		SpreadsheetID:   cfg.SpreadsheetID,
		Tab:             cfg.SheetTab,
	})
	if err != nil {
		slog.Warn("spreadsheet mirror disabled", "error", err)
		return nil
	}
	return w
}

func loadConfig(ctx context.Context) (config.ServerConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	// Environment variables take precedence, then Secret Manager.
	getSecret := func(name string) string {
		if v := os.Getenv(name); v != "" {
			slog.Debug("using environment variable", "name", name)
			return v
		}

		value, err := gsm.Fetch(ctx, name)
		if err != nil {
			slog.Debug("secret not found in Secret Manager", "name", name, "error", err)
			return ""
		}
		if value != "" {
			slog.Info("loaded secret from Secret Manager", "name", name)
		}
		return value
	}

	cfg := config.Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := config.LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := config.ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, fmt.Errorf("invalid environment: %w", err)
	}

	cfg.DiscordBotToken = getSecret("DISCORD_BOT_TOKEN")
	if cfg.AtCoderUsername != "" {
		cfg.AtCoderPassword = getSecret("ATCODER_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func newRouter(contests contestCounter, guilds guildCounter, jobs jobStatus) *mux.Router {
	router := mux.NewRouter()
	router.Use(securityHeadersMiddleware)
	router.HandleFunc("/", healthHandler).Methods("GET")
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/healthz", makeHealthzHandler(contests, guilds)).Methods("GET")
	router.HandleFunc("/status", makeStatusHandler(jobs)).Methods("GET")
	return router
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		slog.Debug("health write error", "error", err)
	}
}

func makeHealthzHandler(contests contestCounter, guilds guildCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(w, "ok - %d contests, %d guilds\n", len(contests.Contests()), len(guilds.Guilds())); err != nil {
			slog.Debug("healthz write error", "error", err)
		}
	}
}

func makeStatusHandler(jobs jobStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(jobs.Status()); err != nil {
			slog.Debug("status write error", "error", err)
		}
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}
