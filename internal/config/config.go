package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"
	yaml "gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Environment overrides, applied after the config document.
const (
	EnvEmail           = "FLASHBUY_EMAIL"
	EnvPassword        = "FLASHBUY_PASSWORD"
	EnvHeadless        = "FLASHBUY_HEADLESS"
	EnvDebuggerAddress = "FLASHBUY_DEBUGGER_ADDRESS"
	EnvLog             = "FLASHBUY_LOG"
)

// DefaultPaths are tried in order when no config path is given.
var DefaultPaths = []string{"config/config.yaml", "config/config.yml", "config/config.json"}

type Credentials struct {
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"-"`
}

type Store struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
}

type Log struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

type Server struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Config is loaded once at startup and not changed afterwards.
type Config struct {
	Credentials          Credentials `yaml:"credentials" json:"credentials"`
	ReuseExistingBrowser bool        `yaml:"reuse_existing_browser" json:"reuse_existing_browser"`
	Headless             bool        `yaml:"headless" json:"headless"`
	DebuggerAddress      string      `yaml:"debugger_address" json:"debugger_address"`
	Driver               string      `yaml:"driver" json:"driver"`
	Mode                 string      `yaml:"mode" json:"mode"`
	RunTimeout           Duration    `yaml:"run_timeout" json:"run_timeout"`
	Store                Store       `yaml:"store" json:"store"`
	ScreenshotsDir       string      `yaml:"screenshots_dir" json:"screenshots_dir"`
	SessionDir           string      `yaml:"session_dir" json:"session_dir"`
	Log                  Log         `yaml:"log" json:"log"`
	Server               Server      `yaml:"server" json:"server"`

	// Source is the file the config was read from, empty for defaults only.
	Source string `yaml:"-" json:"-"`
}

// Duration reads Go duration strings such as "90s" or "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func NewConfig() *Config {
	return &Config{
		Headless:        false,
		DebuggerAddress: "127.0.0.1:9222",
		Driver:          "chromedp",
		Mode:            "fast",
		RunTimeout:      Duration(10 * time.Minute),
		Store:           Store{BaseURL: "https://www.amazon.in"},
		ScreenshotsDir:  "screenshots",
		SessionDir:      ".flashbuy",
		Log:             Log{Level: "info", File: "logs/flash_buyer.log"},
		Server:          Server{Addr: ":8080"},
	}
}

// Load reads .env, the config document at path (or the first of
// DefaultPaths that exists), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := NewConfig()

	if path == "" {
		for _, p := range DefaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		cfg.Source = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse validates a YAML or JSON document against the schema and decodes it
// over cfg.
func Parse(data []byte, cfg *Config) error {
	if err := ValidateDocument(data); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ValidateDocument checks the raw document against the embedded JSON schema.
// JSON is valid YAML, so both formats go through the YAML decoder.
func ValidateDocument(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: failed to unmarshal document: %v", ErrInvalid, err)
	}
	if doc == nil {
		return nil
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal to JSON: %v", ErrInvalid, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to validate schema: %w", err)
	}
	if !result.Valid() {
		var msg strings.Builder
		for _, desc := range result.Errors() {
			fmt.Fprintf(&msg, "\n- %s", desc)
		}
		return fmt.Errorf("%w: schema validation failed:%s", ErrInvalid, msg.String())
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvEmail); v != "" {
		c.Credentials.Email = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.Credentials.Password = v
	}
	if v := os.Getenv(EnvDebuggerAddress); v != "" {
		c.DebuggerAddress = v
	}
	if v := os.Getenv(EnvLog); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvHeadless); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, EnvHeadless, v)
		}
		c.Headless = b
	}
	return nil
}

// Validate checks the settings the schema cannot express.
func (c *Config) Validate() error {
	var problems []string

	switch c.Driver {
	case "chromedp", "playwright":
	default:
		problems = append(problems, fmt.Sprintf("driver %q is not chromedp or playwright", c.Driver))
	}
	switch strings.ToLower(c.Mode) {
	case "fast", "safe":
	default:
		problems = append(problems, fmt.Sprintf("mode %q is not fast or safe", c.Mode))
	}

	u, err := url.Parse(c.Store.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("store.base_url %q must be an absolute http(s) URL", c.Store.BaseURL))
	}
	if c.ReuseExistingBrowser && strings.TrimSpace(c.DebuggerAddress) == "" {
		problems = append(problems, "reuse_existing_browser needs debugger_address")
	}
	if c.Credentials.Password != "" && c.Credentials.Email == "" {
		problems = append(problems, "credentials.password is set without credentials.email")
	}
	if c.RunTimeout <= 0 {
		problems = append(problems, "run_timeout must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// RequireLaunchCredentials rejects a configuration that would launch a
// fresh, signed-out browser with nothing to sign it in with. Call it once
// flags and any interactive prompt have been applied.
func (c *Config) RequireLaunchCredentials() error {
	if c.ReuseExistingBrowser {
		return nil
	}
	return c.RequireCredentials()
}

// RequireCredentials fails unless both email and password are known.
func (c *Config) RequireCredentials() error {
	if c.HasCredentials() {
		return nil
	}
	return fmt.Errorf("%w: signing in needs credentials; set %s and %s or enable reuse_existing_browser",
		ErrInvalid, EnvEmail, EnvPassword)
}

// HasCredentials reports whether both email and password are known.
func (c *Config) HasCredentials() bool {
	return c.Credentials.Email != "" && c.Credentials.Password != ""
}
