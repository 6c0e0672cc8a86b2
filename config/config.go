// Package config loads qoget configuration from a TOML file with environment
// variable overrides. Either storefront section may be absent; a sync run
// only covers the services that resolve to complete credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/xeptore/qoget/redact"
)

type Config struct {
	Qobuz    Qobuz
	Bandcamp Bandcamp
	Log      Log
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("qobuz", c.Qobuz.ToDict()).
		Dict("bandcamp", c.Bandcamp.ToDict()).
		Dict("log", c.Log.ToDict())
}

// QobuzState classifies how far the Qobuz credentials resolve. Incomplete
// means the user clearly intends to sync Qobuz but something is missing and
// must be prompted for.
type QobuzState int

const (
	QobuzNotConfigured QobuzState = iota
	QobuzIncomplete
	QobuzReady
)

type Qobuz struct {
	Username  string
	Password  string
	AppID     string
	AppSecret string
}

func (c *Qobuz) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("username", c.Username).
		Str("password", redact.String(c.Password)).
		Str("app_id", c.AppID).
		Str("app_secret", redact.String(c.AppSecret))
}

// State treats the username as the intent marker: no username means Qobuz is
// not configured at all, while a username without a password means the
// missing part should be prompted for.
func (c *Qobuz) State() QobuzState {
	switch {
	case c.Username == "":
		return QobuzNotConfigured
	case c.Password == "":
		return QobuzIncomplete
	default:
		return QobuzReady
	}
}

type Bandcamp struct {
	IdentityCookie string
}

func (c *Bandcamp) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("identity_cookie", redact.String(c.IdentityCookie))
}

func (c *Bandcamp) Configured() bool {
	return c.IdentityCookie != ""
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "pretty"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: trace, debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty"}, c.Format) {
		return fmt.Errorf("format must be 'json' or 'pretty', got: %s", c.Format)
	}

	return nil
}

// fileConfig mirrors the on-disk layout. Bare Qobuz keys at the top level
// are the legacy format and lose to the [qobuz] section when both exist.
type fileConfig struct {
	Qobuz     *qobuzSection    `toml:"qobuz"`
	Bandcamp  *bandcampSection `toml:"bandcamp"`
	Log       *Log             `toml:"log"`
	Username  string           `toml:"username"`
	Password  string           `toml:"password"`
	AppID     string           `toml:"app_id"`
	AppSecret string           `toml:"app_secret"`
}

type qobuzSection struct {
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	AppID     string `toml:"app_id"`
	AppSecret string `toml:"app_secret"`
}

type bandcampSection struct {
	IdentityCookie string `toml:"identity_cookie"`
}

func (fc *fileConfig) resolve() *Config {
	var conf Config

	if nil != fc.Qobuz {
		conf.Qobuz = Qobuz{
			Username:  fc.Qobuz.Username,
			Password:  fc.Qobuz.Password,
			AppID:     fc.Qobuz.AppID,
			AppSecret: fc.Qobuz.AppSecret,
		}
	}
	if conf.Qobuz.Username == "" {
		conf.Qobuz.Username = fc.Username
	}
	if conf.Qobuz.Password == "" {
		conf.Qobuz.Password = fc.Password
	}
	if conf.Qobuz.AppID == "" {
		conf.Qobuz.AppID = fc.AppID
	}
	if conf.Qobuz.AppSecret == "" {
		conf.Qobuz.AppSecret = fc.AppSecret
	}

	if nil != fc.Bandcamp {
		conf.Bandcamp.IdentityCookie = fc.Bandcamp.IdentityCookie
	}

	if nil != fc.Log {
		conf.Log = *fc.Log
	}

	return &conf
}

// Parse builds a config from TOML content alone, without environment
// overrides or defaults.
func Parse(content []byte) (*Config, error) {
	var fc fileConfig
	if err := toml.Unmarshal(content, &fc); nil != err {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	return fc.resolve(), nil
}

// DefaultPath is $XDG_CONFIG_HOME/qoget/config.toml, falling back to
// ~/.config/qoget/config.toml.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}

	return filepath.Join(configDir, "qoget", "config.toml")
}

// Load reads the config file, applies environment overrides, and validates
// the log section. A missing file is not an error; env vars alone can carry
// a full configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultPath()
	}

	content, err := os.ReadFile(filename)
	if nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
		}
		content = nil
	}

	conf, err := Parse(content)
	if nil != err {
		return nil, err
	}

	if v := os.Getenv("QOBUZ_USERNAME"); v != "" {
		conf.Qobuz.Username = v
	}
	if v := os.Getenv("QOBUZ_PASSWORD"); v != "" {
		conf.Qobuz.Password = v
	}
	if v := os.Getenv("BANDCAMP_IDENTITY"); v != "" {
		conf.Bandcamp.IdentityCookie = v
	}

	conf.Log.setDefaults()
	if err := conf.Log.validate(); nil != err {
		return nil, fmt.Errorf("log config validation failed: %v", err)
	}

	return conf, nil
}

// PromptQobuzCredentials fills in missing Qobuz username or password
// interactively. Outside a terminal it fails with a hint at the
// non-interactive alternatives.
func PromptQobuzCredentials(conf *Qobuz) error {
	if conf.Username == "" {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return errors.New("no username provided. Set QOBUZ_USERNAME or add username to " + DefaultPath())
		}

		prompt := &survey.Input{Message: "Qobuz email:"} //nolint:exhaustruct
		if err := survey.AskOne(prompt, &conf.Username, survey.WithValidator(survey.Required)); nil != err {
			return fmt.Errorf("failed to read username: %v", err)
		}
	}

	if conf.Password == "" {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return errors.New("no password provided. Set QOBUZ_PASSWORD or add password to " + DefaultPath())
		}

		prompt := &survey.Password{Message: "Qobuz password:"} //nolint:exhaustruct
		if err := survey.AskOne(prompt, &conf.Password, survey.WithValidator(survey.Required)); nil != err {
			return fmt.Errorf("failed to read password: %v", err)
		}
	}

	return nil
}
