// Package config loads the keydist settings snapshot.
//
// Settings come from, in increasing precedence: built-in defaults, the
// config file (JSON with comments, or YAML), and KEYDIST_* environment
// variables. A .env file in the working directory is loaded first when present.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is the config file used when none is given
	DefaultPath = "conf.json"
	// EnvPrefix prefixes environment overrides, e.g. KEYDIST_KEY_SERVER_URL
	EnvPrefix = "KEYDIST"
	// DefaultTimerInterval is the internal timer period in seconds
	DefaultTimerInterval = 900
)

// DefaultKeyTypes are the key-type tags accepted when none are configured
var DefaultKeyTypes = []string{
	"ssh-rsa",
	"ecdsa-sha2-nistp256",
	"ecdsa-sha2-nistp384",
	"ecdsa-sha2-nistp521",
	"ssh-ed25519",
}

// Settings is the configuration snapshot handed to the sync engine.
// It is passed by value and never modified after Load returns.
//
// Environment names are derived from the field names with split_words, so
// only the KEYDIST_ prefixed form is read. An envconfig:"X" tag would also
// make envconfig fall back to the bare X variable.
type Settings struct {
	Comment string `json:"_comment,omitempty" yaml:"_comment,omitempty" ignored:"true"`

	KeyServerURL         string   `json:"KEY_SERVER_URL" yaml:"KEY_SERVER_URL" split_words:"true"`
	OverrideExistingKeys bool     `json:"OVERRIDE_EXISTING_KEYS" yaml:"OVERRIDE_EXISTING_KEYS" split_words:"true"`
	SSHPublicKeyTypes    []string `json:"SSH_PUBLIC_KEY_TYPES" yaml:"SSH_PUBLIC_KEY_TYPES" split_words:"true"`
	CheckPerms           bool     `json:"CHECK_PERMS" yaml:"CHECK_PERMS" split_words:"true"`
	BackupExistingKeys   bool     `json:"BACKUP_EXISTING_KEYS" yaml:"BACKUP_EXISTING_KEYS" split_words:"true"`

	// Scheduling
	UseInternalTimer      bool   `json:"USE_INTERNAL_TIMER" yaml:"USE_INTERNAL_TIMER" split_words:"true"`
	InternalTimerInterval int    `json:"INTERNAL_TIMER_INTERVAL" yaml:"INTERNAL_TIMER_INTERVAL" split_words:"true"`
	InternalTimerSchedule string `json:"INTERNAL_TIMER_SCHEDULE,omitempty" yaml:"INTERNAL_TIMER_SCHEDULE,omitempty" split_words:"true"`
	StatusListenAddr      string `json:"STATUS_LISTEN_ADDR,omitempty" yaml:"STATUS_LISTEN_ADDR,omitempty" split_words:"true"`

	// Notifications
	EnableWebhook bool   `json:"ENABLE_WEBHOOK" yaml:"ENABLE_WEBHOOK" split_words:"true"`
	WebhookURL    string `json:"WEBHOOK_URL" yaml:"WEBHOOK_URL" split_words:"true"`
	HostName      string `json:"HOST_NAME" yaml:"HOST_NAME" split_words:"true"`
}

// Default returns the built-in settings. KEY_SERVER_URL has no default.
func Default() Settings {
	return Settings{
		Comment:               "INTERNAL_TIMER_INTERVAL is in seconds",
		OverrideExistingKeys:  true,
		SSHPublicKeyTypes:     append([]string(nil), DefaultKeyTypes...),
		CheckPerms:            true,
		UseInternalTimer:      false,
		InternalTimerInterval: DefaultTimerInterval,
		EnableWebhook:         false,
		HostName:              Hostname(context.Background()),
	}
}

// TimerInterval returns the internal timer period
func (s Settings) TimerInterval() time.Duration {
	return time.Duration(s.InternalTimerInterval) * time.Second
}

// Schedule returns the cron spec for the internal timer
func (s Settings) Schedule() string {
	if s.InternalTimerSchedule != "" {
		return s.InternalTimerSchedule
	}
	return fmt.Sprintf("@every %s", s.TimerInterval())
}

// Load reads the config file at path, applies .env and environment
// overrides and validates the result. The returned warnings are non-fatal
// findings such as a plain http key server.
func Load(path string) (Settings, []string, error) {
	s := Default()

	if err := loadDotEnv(); err != nil {
		return Settings{}, nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, nil, &ValidationError{Problems: []string{fmt.Sprintf("error reading config file at %s: %v", path, err)}}
	}

	if err := Decode(data, formatFor(path), &s); err != nil {
		return Settings{}, nil, &ValidationError{Problems: []string{fmt.Sprintf("error decoding config file at %s: %v", path, err)}}
	}

	if err := ApplyEnv(&s); err != nil {
		return Settings{}, nil, &ValidationError{Problems: []string{fmt.Sprintf("invalid environment override: %v", err)}}
	}

	warnings, err := s.Validate()
	if err != nil {
		return Settings{}, warnings, err
	}
	return s, warnings, nil
}

// Format is a config file syntax
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode overlays data onto s. JSON may contain comments and trailing
// commas. Unknown keys and mistyped values are rejected.
func Decode(data []byte, format Format, s *Settings) error {
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		return dec.Decode(s)
	}
}

// ApplyEnv overrides fields from KEYDIST_* variables. Unset variables leave
// the current value untouched.
func ApplyEnv(s *Settings) error {
	return envconfig.Process(EnvPrefix, s)
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return &ValidationError{Problems: []string{fmt.Sprintf("error loading .env: %v", err)}}
}

// Hostname returns the host name reported by the OS
func Hostname(ctx context.Context) string {
	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	name, _ := os.Hostname()
	return name
}
