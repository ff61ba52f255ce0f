package settings

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/q-controller/imgrelay/src/pkg/utils"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Artifacts Artifacts `yaml:"artifacts"`
	Scratch   Scratch   `yaml:"scratch"`
	Fetch     Fetch     `yaml:"fetch"`
	Transform Transform `yaml:"transform"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicBaseURL prefixes the artifact URLs handed back to callers.
	// Empty means http://localhost:<port>.
	PublicBaseURL   string        `yaml:"publicBaseUrl"`
	Diagnostics     bool          `yaml:"diagnostics"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// AllowedOrigins limits CORS; empty reflects any origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Artifacts struct {
	ServeTTL time.Duration `yaml:"serveTtl"`
	// LedgerPath is the badger registration ledger directory. Empty means
	// .ledger inside the scratch directory.
	LedgerPath    string `yaml:"ledgerPath"`
	DisableLedger bool   `yaml:"disableLedger"`
}

type Scratch struct {
	Dir           string        `yaml:"dir"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	MaxAge        time.Duration `yaml:"maxAge"`
	Watch         bool          `yaml:"watch"`
}

type Fetch struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"maxBytes"`
	UserAgent string        `yaml:"userAgent"`
}

type Transform struct {
	Workers int `yaml:"workers"`
}

func Default() *Config {
	return &Config{
		Server: Server{
			Port:            3001,
			Diagnostics:     true,
			ShutdownTimeout: 5 * time.Second,
		},
		Artifacts: Artifacts{
			ServeTTL: time.Hour,
		},
		Scratch: Scratch{
			Dir:           "tmp",
			SweepInterval: time.Hour,
			MaxAge:        time.Hour,
			Watch:         true,
		},
		Fetch: Fetch{
			Timeout:   30 * time.Second,
			MaxBytes:  50 << 20,
			UserAgent: "imgrelay/1.0",
		},
		Transform: Transform{
			Workers: runtime.NumCPU(),
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		if unmarshalErr := utils.Unmarshal(config, path); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to read config: %w", unmarshalErr)
		}
	}
	if validateErr := Validate(config); validateErr != nil {
		return nil, fmt.Errorf("invalid config: %w", validateErr)
	}
	return config, nil
}

func Validate(config *Config) error {
	var errs []error
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", config.Server.Port))
	}
	if config.Artifacts.ServeTTL <= 0 {
		errs = append(errs, errors.New("artifacts.serveTtl must be positive"))
	}
	if config.Scratch.Dir == "" {
		errs = append(errs, errors.New("scratch.dir is not set"))
	}
	if config.Scratch.SweepInterval <= 0 {
		errs = append(errs, errors.New("scratch.sweepInterval must be positive"))
	}
	if config.Scratch.MaxAge < 0 {
		errs = append(errs, errors.New("scratch.maxAge must not be negative"))
	}
	if config.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be positive"))
	}
	if config.Fetch.MaxBytes <= 0 {
		errs = append(errs, errors.New("fetch.maxBytes must be positive"))
	}
	if config.Transform.Workers <= 0 {
		errs = append(errs, errors.New("transform.workers must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) BaseURL() string {
	if c.Server.PublicBaseURL != "" {
		return c.Server.PublicBaseURL
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.Port)
}

// LedgerDir is where the registration ledger lives, or "" when it is
// disabled.
func (c *Config) LedgerDir() string {
	switch {
	case c.Artifacts.DisableLedger:
		return ""
	case c.Artifacts.LedgerPath != "":
		return c.Artifacts.LedgerPath
	default:
		return filepath.Join(c.Scratch.Dir, ".ledger")
	}
}

func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
