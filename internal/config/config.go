// Package config holds the server configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// State backends.
const (
	BackendFile      = "file"
	BackendDatastore = "datastore"
)

// ServerConfig is built once at startup and passed to constructors.
type ServerConfig struct {
	DiscordBotToken string `yaml:"-"`
	AtCoderUsername string `yaml:"atcoder_username"`
	AtCoderPassword string `yaml:"-"`
	// Affiliation is matched as a substring of standings affiliations.
	Affiliation string `yaml:"affiliation"`

	ContestsFile string `yaml:"contests_file"`
	GuildsFile   string `yaml:"guilds_file"`
	StateBackend string `yaml:"state_backend"`
	DatastoreDB  string `yaml:"datastore_db"`

	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	ReminderInterval time.Duration `yaml:"reminder_interval"`
	ThreadInterval   time.Duration `yaml:"thread_interval"`
	ResultInterval   time.Duration `yaml:"result_interval"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	ReminderWindow   time.Duration `yaml:"reminder_window"`
	ResultDelay      time.Duration `yaml:"result_delay"`

	ReminderMaxAttempts int `yaml:"reminder_max_attempts"`

	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	SpreadsheetID         string `yaml:"spreadsheet_id"`
	SheetTab              string `yaml:"sheet_tab"`

	// AJLYear enables /ajl for that league year; zero disables it.
	AJLYear              int    `yaml:"ajl_year"`
	AJLSeason            string `yaml:"ajl_season"`
	AJLSchool            string `yaml:"ajl_school"`
	AJLFile              string `yaml:"ajl_file"`
	AJLAbbreviationsFile string `yaml:"ajl_abbreviations_file"`

	// Keywords enables keyword replies, which need the message content intent.
	Keywords     []string `yaml:"keywords"`
	KeywordReply string   `yaml:"keyword_reply"`

	Port string `yaml:"port"`
}

// Default returns the configuration used when nothing is overridden.
func Default() ServerConfig {
	return ServerConfig{
		Affiliation:      "電子電脳技術研究会",
		ContestsFile:     "data/contests.yaml",
		GuildsFile:       "data/guilds.yaml",
		StateBackend:     BackendFile,
		DatastoreDB:      "contestian",
		RefreshInterval:  24 * time.Hour,
		ReminderInterval: 30 * time.Second,
		ThreadInterval:   time.Minute,
		ResultInterval:   time.Minute,
		HTTPTimeout:      10 * time.Second,
		ReminderWindow:   time.Minute,
		SheetTab:         "results",
		AJLSeason:        "winter",
		AJLSchool:        "筑波大学附属中学校",
		AJLFile:          "data/ajl.yaml",
		KeywordReply:     "附属警察です！",
		Port:             "9119",
	}
}

// LoadFile overlays a YAML file onto cfg. Secrets are never read from files.
func LoadFile(path string, cfg *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	slog.Info("loaded config file", "path", path)
	return nil
}

// ApplyEnv overlays non-empty values returned by lookup onto cfg.
func ApplyEnv(cfg *ServerConfig, lookup func(string) string) error {
	strs := map[string]*string{
		"ATCODER_USERNAME":        &cfg.AtCoderUsername,
		"AFFILIATION":             &cfg.Affiliation,
		"CONTESTS_FILE":           &cfg.ContestsFile,
		"GUILDS_FILE":             &cfg.GuildsFile,
		"STATE_BACKEND":           &cfg.StateBackend,
		"DATASTORE_DB":            &cfg.DatastoreDB,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
		"SPREADSHEET_ID":          &cfg.SpreadsheetID,
		"SHEET_TAB":               &cfg.SheetTab,
		"AJL_SEASON":              &cfg.AJLSeason,
		"AJL_SCHOOL":              &cfg.AJLSchool,
		"AJL_FILE":                &cfg.AJLFile,
		"AJL_ABBREVIATIONS_FILE":  &cfg.AJLAbbreviationsFile,
		"KEYWORD_REPLY":           &cfg.KeywordReply,
		"PORT":                    &cfg.Port,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"REFRESH_INTERVAL":  &cfg.RefreshInterval,
		"REMINDER_INTERVAL": &cfg.ReminderInterval,
		"THREAD_INTERVAL":   &cfg.ThreadInterval,
		"RESULT_INTERVAL":   &cfg.ResultInterval,
		"HTTP_TIMEOUT":      &cfg.HTTPTimeout,
		"REMINDER_WINDOW":   &cfg.ReminderWindow,
		"RESULT_DELAY":      &cfg.ResultDelay,
	}
	var errs []error
	for key, dst := range durations {
		v := strings.TrimSpace(lookup(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = d
	}

	ints := map[string]*int{
		"REMINDER_MAX_ATTEMPTS": &cfg.ReminderMaxAttempts,
		"AJL_YEAR":              &cfg.AJLYear,
	}
	for key, dst := range ints {
		v := strings.TrimSpace(lookup(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = n
	}

	if v := lookup("KEYWORDS"); strings.TrimSpace(v) != "" {
		cfg.Keywords = nil
		for kw := range strings.SplitSeq(v, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				cfg.Keywords = append(cfg.Keywords, kw)
			}
		}
	}
	return errors.Join(errs...)
}

// Validate reports missing or inconsistent settings.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.DiscordBotToken == "" {
		errs = append(errs, errors.New("DISCORD_BOT_TOKEN is required"))
	}
	switch c.StateBackend {
	case BackendFile:
		if c.ContestsFile == "" || c.GuildsFile == "" {
			errs = append(errs, errors.New("CONTESTS_FILE and GUILDS_FILE are required for the file backend"))
		}
	case BackendDatastore:
		if c.DatastoreDB == "" {
			errs = append(errs, errors.New("DATASTORE_DB is required for the datastore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend))
	}

	for name, d := range map[string]time.Duration{
		"REFRESH_INTERVAL":  c.RefreshInterval,
		"REMINDER_INTERVAL": c.ReminderInterval,
		"THREAD_INTERVAL":   c.ThreadInterval,
		"RESULT_INTERVAL":   c.ResultInterval,
		"HTTP_TIMEOUT":      c.HTTPTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.ReminderWindow < c.ReminderInterval {
		errs = append(errs, fmt.Errorf("REMINDER_WINDOW (%s) must be at least REMINDER_INTERVAL (%s)", c.ReminderWindow, c.ReminderInterval))
	}
	if c.ThreadInterval > time.Minute {
		errs = append(errs, fmt.Errorf("THREAD_INTERVAL (%s) must not exceed the one-minute thread window", c.ThreadInterval))
	}
	if c.ReminderMaxAttempts < 0 {
		errs = append(errs, errors.New("REMINDER_MAX_ATTEMPTS must not be negative"))
	}
	if c.ResultDelay < 0 {
		errs = append(errs, errors.New("RESULT_DELAY must not be negative"))
	}
	if c.AJLYear < 0 {
		errs = append(errs, errors.New("AJL_YEAR must not be negative"))
	}
	if c.AJLEnabled() {
		if s := strings.ToLower(c.AJLSeason); s != "winter" && s != "summer" {
			errs = append(errs, fmt.Errorf("AJL_SEASON must be winter or summer, got %q", c.AJLSeason))
		}
		if c.StateBackend == BackendFile && c.AJLFile == "" {
			errs = append(errs, errors.New("AJL_FILE is required for the file backend"))
		}
	}
	if c.AtCoderUsername != "" && c.AtCoderPassword == "" {
		errs = append(errs, errors.New("ATCODER_PASSWORD is required when ATCODER_USERNAME is set"))
	}
	return errors.Join(errs...)
}

// SheetsEnabled reports whether results are mirrored to Google Sheets.
func (c ServerConfig) SheetsEnabled() bool {
	return c.SpreadsheetID != ""
}

// AJLEnabled reports whether the AJL ranking commands are served.
func (c ServerConfig) AJLEnabled() bool {
	return c.AJLYear > 0
}
