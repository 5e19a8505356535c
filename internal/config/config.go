package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	appName = "ttrace"

	socketBaseName = "ttrace.sock"
	statsFileName  = "stats.json"
	logFileName    = "daemon.log"

	defaultStartTimeout = 3 * time.Second
	defaultStopTimeout  = 3 * time.Second

	envSocket       = "TTRACE_SOCKET"
	envRuntimeDir   = "TTRACE_RUNTIME_DIR"
	envDataDir      = "TTRACE_DATA_DIR"
	envStartTimeout = "TTRACE_START_TIMEOUT"
	envStopTimeout  = "TTRACE_STOP_TIMEOUT"
)

// Config holds the resolved locations and timeouts shared by the daemon and its clients.
type Config struct {
	SocketPath   string
	DataDir      string
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// StatsPath is where the aggregated statistics are persisted.
func (c Config) StatsPath() string {
	return filepath.Join(c.DataDir, statsFileName)
}

// LogPath is where a backgrounded daemon writes its log.
func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, logFileName)
}

// PIDPath is the socket path with its extension replaced by .pid, so it is
// as per-user as the socket itself.
func (c Config) PIDPath() string {
	return strings.TrimSuffix(c.SocketPath, filepath.Ext(c.SocketPath)) + ".pid"
}

// Load builds a Config from an optional config file plus environment overrides.
// Files ending in .toml are decoded as TOML, anything else as JSON.
// Environment variables win over the file.
func Load(path string) (Config, error) {
	cfg := Config{
		SocketPath:   defaultSocketPath(),
		DataDir:      defaultDataDir(),
		StartTimeout: defaultStartTimeout,
		StopTimeout:  defaultStopTimeout,
	}

	if path != "" {
		fileCfg, err := loadFromFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
		if fileCfg.SocketPath != "" {
			cfg.SocketPath = fileCfg.SocketPath
		}
		if fileCfg.DataDir != "" {
			cfg.DataDir = fileCfg.DataDir
		}
		if fileCfg.StartTimeout != 0 {
			cfg.StartTimeout = fileCfg.StartTimeout
		}
		if fileCfg.StopTimeout != 0 {
			cfg.StopTimeout = fileCfg.StopTimeout
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envSocket); v != "" {
		cfg.SocketPath = v
	} else if v := os.Getenv(envRuntimeDir); v != "" {
		cfg.SocketPath = filepath.Join(v, socketBaseName)
	}

	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv(envStartTimeout); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.StartTimeout = dur
		} else if err != nil {
			log.Printf("invalid %s value %q: %v", envStartTimeout, v, err)
		}
	}

	if v := os.Getenv(envStopTimeout); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.StopTimeout = dur
		} else if err != nil {
			log.Printf("invalid %s value %q: %v", envStopTimeout, v, err)
		}
	}
}

type fileConfig struct {
	SocketPath   string `json:"socket_path" toml:"socket_path"`
	DataDir      string `json:"data_dir" toml:"data_dir"`
	StartTimeout string `json:"start_timeout" toml:"start_timeout"`
	StopTimeout  string `json:"stop_timeout" toml:"stop_timeout"`
}

func loadFromFile(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	var raw fileConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return cfg, err
		}
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, err
	}

	cfg.SocketPath = raw.SocketPath
	cfg.DataDir = raw.DataDir

	if raw.StartTimeout != "" {
		dur, err := time.ParseDuration(raw.StartTimeout)
		if err != nil {
			return cfg, fmt.Errorf("parse start_timeout: %w", err)
		}
		if dur <= 0 {
			return cfg, errors.New("start_timeout must be > 0")
		}
		cfg.StartTimeout = dur
	}
	if raw.StopTimeout != "" {
		dur, err := time.ParseDuration(raw.StopTimeout)
		if err != nil {
			return cfg, fmt.Errorf("parse stop_timeout: %w", err)
		}
		if dur <= 0 {
			return cfg, errors.New("stop_timeout must be > 0")
		}
		cfg.StopTimeout = dur
	}

	return cfg, nil
}

// defaultSocketPath picks a per-user location for the socket:
//   - linux: $XDG_RUNTIME_DIR or /run/user/<UID>
//   - darwin, *bsd, etc: /tmp/ttrace-<UID>.sock (short, to stay under the sun_path limit)
func defaultSocketPath() string {
	uid := currentUID()

	if runtime.GOOS == "linux" {
		if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
			return filepath.Join(v, socketBaseName)
		}
		return filepath.Join("/run/user", uid, socketBaseName)
	}

	return filepath.Join("/tmp", appName+"-"+uid+".sock")
}

func defaultDataDir() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), appName+"-"+currentUID())
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}
	return filepath.Join(home, ".local", "share", appName)
}

func currentUID() string {
	u, err := user.Current()
	if err == nil && u != nil && u.Uid != "" {
		return u.Uid
	}
	return "0"
}
