package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/stackbuild/stackbuild/pkg/utils/crypto"
)

const EnvPrefix = "STACKBUILD"

type Config struct {
	Hosts     []HostConfig      `mapstructure:"hosts"`
	SSH       SSHConfig         `mapstructure:"ssh"`
	Execution ExecutionConfig   `mapstructure:"execution"`
	Env       map[string]string `mapstructure:"env"`
	Server    ServerConfig      `mapstructure:"server"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Logger    LoggerConfig      `mapstructure:"logger"`
	Security  SecurityConfig    `mapstructure:"security"`
	Features  FeaturesConfig    `mapstructure:"features"`
	Auth      AuthConfig        `mapstructure:"auth"`
}

// HostConfig is one target machine. Local hosts run commands on the
// operator machine instead of over SSH.
type HostConfig struct {
	Name           string            `mapstructure:"name"`
	Address        string            `mapstructure:"address"`
	Port           int               `mapstructure:"port"`
	User           string            `mapstructure:"user"`
	Password       string            `mapstructure:"password"`
	PrivateKeyPath string            `mapstructure:"private_key_path"`
	Local          bool              `mapstructure:"local"`
	Env            map[string]string `mapstructure:"env"`
}

// ResolvePassword decrypts passwords stored in sealed form.
func (h HostConfig) ResolvePassword(encryptionKey string) (string, error) {
	plain, err := crypto.Reveal(h.Password, encryptionKey)
	if err != nil {
		return "", fmt.Errorf("host %s: decrypt password: %w", h.Name, err)
	}
	return plain, nil
}

type SSHConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"`
	AskPassword    bool          `mapstructure:"ask_password"`
	KeyPaths       []string      `mapstructure:"key_paths"`
}

type ExecutionConfig struct {
	// Concurrency is the number of hosts worked on at once.
	Concurrency    int           `mapstructure:"concurrency"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// Retention prunes journal events older than this on startup. Zero
	// keeps everything.
	Retention time.Duration `mapstructure:"retention"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type FeaturesConfig struct {
	EnableLocks          bool   `mapstructure:"enable_locks"`
	LockDir              string `mapstructure:"lock_dir"`
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// FindHost returns the configured host with the given name.
func (c *Config) FindHost(name string) (HostConfig, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return HostConfig{}, false
}

// HostNames lists configured hosts in file order.
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		names = append(names, h.Name)
	}
	return names
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ssh.timeout", 60*time.Second)
	v.SetDefault("ssh.max_retries", 5)
	v.SetDefault("execution.concurrency", 1)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.port", 5432)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stderr"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})
	v.SetDefault("features.lock_dir", "/tmp")
}

// Load reads path (if non-empty) and applies STACKBUILD_* environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Execution.Concurrency < 1 {
		cfg.Execution.Concurrency = 1
	}
	for i := range cfg.Hosts {
		if cfg.Hosts[i].Name == "" {
			cfg.Hosts[i].Name = cfg.Hosts[i].Address
		}
		if cfg.Hosts[i].Name == "" {
			return nil, fmt.Errorf("config: host %d has neither name nor address", i)
		}
	}

	return &cfg, nil
}
