package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultCoordinator             = "127.0.0.1:20408"
	DefaultTransport               = TransportGRPC
	DefaultConnectTimeout          = 30 * time.Second
	DefaultResyncTimeout           = 30 * time.Second
	DefaultReservationPollInterval = 30 * time.Second
	DefaultMaxMessageSize          = 1 << 20
)

// Transport names.
const (
	TransportGRPC   = "grpc"
	TransportFramed = "framed"
)

// Config errors.
var (
	ErrNoCoordinator    = errors.New("coordinator address is required")
	ErrUnknownTransport = errors.New("unknown transport")
)

// Config is the client configuration.
//
// Values are read from a YAML (or JSON) file first, then overridden from
// the environment.
type Config struct {
	// Coordinator is the coordinator address (host:port).
	Coordinator string `yaml:"coordinator_address" env:"LG_COORDINATOR"`

	// Hostname and Username form the "host/user" name the coordinator
	// records as the acquirer of a place.
	Hostname string `yaml:"hostname" env:"LG_HOSTNAME"`
	Username string `yaml:"username" env:"LG_USERNAME"`

	// Place is the initially selected place.
	Place string `yaml:"place" env:"LG_PLACE"`

	// EnvFile is the selected environment file for scripts.
	EnvFile string `yaml:"env_file" env:"LG_ENV"`

	// Transport selects the wire transport: "grpc" or "framed".
	Transport string `yaml:"transport" env:"LGSYNC_TRANSPORT"`

	TLS TLS `yaml:"tls" envPrefix:"LGSYNC_TLS_"`

	ConnectTimeout          time.Duration `yaml:"connect_timeout" env:"LGSYNC_CONNECT_TIMEOUT"`
	ResyncTimeout           time.Duration `yaml:"resync_timeout" env:"LGSYNC_RESYNC_TIMEOUT"`
	ReservationPollInterval time.Duration `yaml:"reservation_poll_interval" env:"LGSYNC_RESERVATION_POLL"`
	MaxMessageSize          uint32        `yaml:"max_message_size" env:"LGSYNC_MAX_MESSAGE_SIZE"`

	// UI preferences. Carried through unchanged.
	Language   string `yaml:"language,omitempty" env:"LGSYNC_LANGUAGE"`
	ScriptsDir string `yaml:"scripts_dir,omitempty" env:"LGSYNC_SCRIPTS_DIR"`
	VenvDir    string `yaml:"venv_dir,omitempty" env:"LGSYNC_VENV_DIR"`
}

// TLS configures transport security. Disabled unless Enabled is set.
type TLS struct {
	Enabled            bool   `yaml:"enabled" env:"ENABLED"`
	CAFile             string `yaml:"ca_file" env:"CA_FILE"`
	CertFile           string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile            string `yaml:"key_file" env:"KEY_FILE"`
	ServerName         string `yaml:"server_name" env:"SERVER_NAME"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Coordinator:             DefaultCoordinator,
		Hostname:                defaultHostname(),
		Username:                defaultUsername(),
		Transport:               DefaultTransport,
		ConnectTimeout:          DefaultConnectTimeout,
		ResyncTimeout:           DefaultResyncTimeout,
		ReservationPollInterval: DefaultReservationPollInterval,
		MaxMessageSize:          DefaultMaxMessageSize,
	}
}

// Load reads the file at path (if non-empty) over the defaults and then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnv applies only environment overrides to the defaults.
func LoadEnv() (Config, error) {
	return Load("")
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Coordinator) == "" {
		return ErrNoCoordinator
	}
	switch c.Transport {
	case TransportGRPC, TransportFramed:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	if c.ConnectTimeout < 0 || c.ResyncTimeout < 0 || c.ReservationPollInterval < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls client certificate needs both cert_file and key_file")
	}
	return nil
}

// ClientName returns the "host/user" name announced to the coordinator.
func (c *Config) ClientName() string {
	return c.Hostname + "/" + c.Username
}

func defaultHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

func defaultUsername() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
