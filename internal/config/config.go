package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/meden/biosync/internal/model"
	bstime "github.com/meden/biosync/internal/time"
)

// Application settings.
type Application struct {
	Debug     bool   `json:"debug"`
	HTTP      *HTTP  `json:"http"`
	SentryDSN string `json:"sentry_dsn"`

	StateDir string `json:"state_dir"`
	LogsDir  string `json:"logs_dir"`

	HR HR `json:"hr"`

	// PullFrequency is the scheduling interval of the reconcile cycle. The
	// cycle gate also uses it, so invoking more often is a no-op.
	PullFrequency bstime.Duration `json:"pull_frequency"`

	// ImportStartDate is the earliest-import floor, format 20060102. Punches
	// at or before it are never delivered.
	ImportStartDate string `json:"import_start_date"`

	// TerminalDriver selects the registered device protocol driver.
	TerminalDriver string `json:"terminal_driver"`

	Devices []model.Device `json:"devices"`

	// IgnoredUserIDs are device user ids excluded from delivery entirely.
	IgnoredUserIDs []string `json:"ignored_user_ids"`

	// OutValues and InValues classify raw punch codes for devices configured
	// with AUTO direction. OUT wins when a code appears in both.
	OutValues []int `json:"out_values"`
	InValues  []int `json:"in_values"`

	Bypass []Window `json:"bypass"`

	Template Template `json:"template"`

	// PatternsPath points at the YAML error-classification tables. Re-read
	// every cycle so HR-side message changes need no restart.
	PatternsPath string `json:"patterns_path"`
}

type HTTP struct {
	Listen  string          `json:"listen"`
	Timeout bstime.Duration `json:"timeout"`
}

// HR holds the HR-system API endpoint and credentials. Key and secret are
// usually injected from the environment, not the config file.
type HR struct {
	BaseURL   string          `json:"base_url"`
	APIKey    string          `json:"api_key"`
	APISecret string          `json:"api_secret"`
	Timeout   bstime.Duration `json:"timeout"`
}

// Template settings for the fingerprint reconciler.
type Template struct {
	// Frequency is the scheduling interval of the template flow. It runs
	// far less often than attendance pulls.
	Frequency bstime.Duration `json:"frequency"`
	// SoftClearDays: a Left employee keeps device templates for this many
	// days after relieving, then they are cleared (identity preserved).
	SoftClearDays int `json:"soft_clear_days"`
	// HardDeleteDays: after this many days the identity is removed from
	// every device entirely. Zero disables hard delete.
	HardDeleteDays int `json:"hard_delete_days"`
	// DeleteHRRecords also removes the HR-side fingerprint records when
	// soft-clearing. Default off to preserve audit history.
	DeleteHRRecords bool `json:"delete_hr_records"`
	// Workers bounds the per-employee device fan-out.
	Workers int `json:"workers"`
	// HistoryLimit caps sync_history/clear_history entries kept per device.
	HistoryLimit int `json:"history_limit"`
}

const importDateLayout = "20060102"

// ImportFloor parses the earliest-import date. Zero time when unset.
func (app Application) ImportFloor() (time.Time, error) {
	if app.ImportStartDate == "" {
		return time.Time{}, nil
	}

	floor, err := time.ParseInLocation(importDateLayout, app.ImportStartDate, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing import_start_date: %w", err)
	}

	return floor, nil
}

// Parse parses config from file and overlays credentials from the
// environment (optionally loaded from a .env next to the config).
func Parse(path string) (Application, error) {
	// missing .env is fine, real environments set vars directly
	_ = godotenv.Load()

	fileBytes, err := os.ReadFile(path)
	if err != nil {
		return Application{}, err
	}

	app := Application{}
	if err = json.Unmarshal(fileBytes, &app); err != nil {
		return Application{}, err
	}

	app.applyEnv()
	app.applyDefaults()

	return app, nil
}

func (app *Application) applyEnv() {
	if v := os.Getenv("BIOSYNC_HR_API_KEY"); v != "" {
		app.HR.APIKey = v
	}

	if v := os.Getenv("BIOSYNC_HR_API_SECRET"); v != "" {
		app.HR.APISecret = v
	}

	if v := os.Getenv("BIOSYNC_SENTRY_DSN"); v != "" {
		app.SentryDSN = v
	}
}

func (app *Application) applyDefaults() {
	if app.StateDir == "" {
		app.StateDir = "state"
	}

	if app.LogsDir == "" {
		app.LogsDir = "logs"
	}

	if app.PullFrequency == 0 {
		app.PullFrequency = bstime.Duration(2 * time.Minute)
	}

	if app.TerminalDriver == "" {
		app.TerminalDriver = "zkteco"
	}

	if app.Template.Frequency == 0 {
		app.Template.Frequency = bstime.Duration(24 * time.Hour)
	}

	if app.Template.Workers <= 0 {
		app.Template.Workers = 4
	}

	if app.Template.HistoryLimit <= 0 {
		app.Template.HistoryLimit = 10
	}

	if app.Template.SoftClearDays <= 0 {
		app.Template.SoftClearDays = 7
	}
}
