// Package boardconfig provides YAML configuration loading and validation
// for a fleet of TAPCP-speaking boards: LoadConfig reads one YAML file,
// applyDefaults merges fleet-wide fallbacks into each board entry, and a
// validate pass returns errors.Join of every violation found.
package boardconfig

import (
	"errors"
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/casper-tapcp/tapcpctl/tapcp"
)

// Config is the top-level configuration file: fleet-wide defaults plus
// one entry per board.
type Config struct {
	// Defaults are applied to every board entry that leaves the
	// corresponding field zero-valued.
	Defaults BoardDefaults `yaml:"defaults"`

	// Boards is the list of boards this configuration describes. Must be
	// non-empty.
	Boards []Board `yaml:"boards"`
}

// BoardDefaults holds the fleet-wide fallback values merged into every
// Board that omits them.
type BoardDefaults struct {
	// TimeoutMS is the per-packet socket timeout in milliseconds.
	// Defaults to tapcp.DefaultTimeout when omitted.
	TimeoutMS int `yaml:"timeout_ms"`

	// Retries is the inner TFTP engine's resend budget. Defaults to
	// tapcp.DefaultRetries when omitted.
	Retries int `yaml:"retries"`

	// MaxTimeoutMS caps the outer retry layer's geometric backoff, in
	// milliseconds. Defaults to tapcp.DefaultMaxTimeout when omitted.
	MaxTimeoutMS int `yaml:"max_timeout_ms"`

	// DescriptorSearchPath is an ordered list of directories searched
	// for ".fpg" descriptor files referenced by name rather than by
	// full path.
	DescriptorSearchPath []string `yaml:"descriptor_search_path"`
}

// Board describes one board's connection parameters.
type Board struct {
	// Name is a human-readable identifier for this board (e.g.
	// "snap-rack3-u12"). Required.
	Name string `yaml:"name"`

	// Address is the board's "host:port" UDP endpoint. Required.
	Address string `yaml:"address"`

	// Platform is one of "snap" or "snap2". Required.
	Platform string `yaml:"platform"`

	// TimeoutMS, Retries, and MaxTimeoutMS override Defaults for this
	// board specifically; zero means "use the default".
	TimeoutMS    int `yaml:"timeout_ms"`
	Retries      int `yaml:"retries"`
	MaxTimeoutMS int `yaml:"max_timeout_ms"`

	// DescriptorSearchPath overrides Defaults.DescriptorSearchPath for
	// this board specifically.
	DescriptorSearchPath []string `yaml:"descriptor_search_path"`
}

var validPlatforms = map[string]tapcp.Platform{
	"snap":  tapcp.SNAP,
	"snap2": tapcp.SNAP2,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// merges fleet defaults into every board, and validates all required
// fields. It returns a typed error describing every validation failure
// encountered, joined with errors.Join.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("boardconfig: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("boardconfig: cannot parse %q: %w", path, err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("boardconfig: applying defaults for %q: %w", path, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("boardconfig: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults merges cfg.Defaults into every board entry that left the
// corresponding field zero-valued, using mergo rather than a hand-rolled
// field-by-field copy.
func applyDefaults(cfg *Config) error {
	if cfg.Defaults.TimeoutMS <= 0 {
		cfg.Defaults.TimeoutMS = int(tapcp.DefaultTimeout / time.Millisecond)
	}
	if cfg.Defaults.Retries <= 0 {
		cfg.Defaults.Retries = tapcp.DefaultRetries
	}
	if cfg.Defaults.MaxTimeoutMS <= 0 {
		cfg.Defaults.MaxTimeoutMS = int(tapcp.DefaultMaxTimeout / time.Millisecond)
	}

	for i := range cfg.Boards {
		overlay := Board{
			TimeoutMS:            cfg.Defaults.TimeoutMS,
			Retries:              cfg.Defaults.Retries,
			MaxTimeoutMS:         cfg.Defaults.MaxTimeoutMS,
			DescriptorSearchPath: cfg.Defaults.DescriptorSearchPath,
		}
		if err := mergo.Merge(&cfg.Boards[i], overlay); err != nil {
			return fmt.Errorf("board %q: %w", cfg.Boards[i].Name, err)
		}
	}
	return nil
}

// validate checks that all required fields are populated and that
// enumerated fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if len(cfg.Boards) == 0 {
		errs = append(errs, errors.New("boards: at least one board is required"))
	}

	seen := make(map[string]bool)
	for i, b := range cfg.Boards {
		prefix := fmt.Sprintf("boards[%d]", i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
		} else if seen[b.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate board name %q", prefix, b.Name))
		} else {
			seen[b.Name] = true
		}
		if b.Address == "" {
			errs = append(errs, fmt.Errorf("%s: address is required", prefix))
		}
		if _, ok := validPlatforms[b.Platform]; !ok {
			errs = append(errs, fmt.Errorf("%s: platform %q must be one of: snap, snap2", prefix, b.Platform))
		}
	}

	return errors.Join(errs...)
}

// TransportConfig converts b into a tapcp.Config, resolving its platform
// string. b must have already passed LoadConfig's validation.
func (b Board) TransportConfig() tapcp.Config {
	return tapcp.Config{
		Address:    b.Address,
		Platform:   validPlatforms[b.Platform],
		Timeout:    time.Duration(b.TimeoutMS) * time.Millisecond,
		Retries:    b.Retries,
		MaxTimeout: time.Duration(b.MaxTimeoutMS) * time.Millisecond,
	}
}
