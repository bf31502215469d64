package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from TOML strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents ~/.bridged/config.toml.
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	WSPath     string `toml:"ws_path"`
	DataDir    string `toml:"data_dir"`

	BatchSize          int `toml:"batch_size"`
	BackfillMaxBatches int `toml:"backfill_max_batches"`

	ProbeInterval Duration `toml:"probe_interval"`
	StaleAfter    Duration `toml:"stale_after"`
	SettleDelay   Duration `toml:"settle_delay"`
	RequestDelay  Duration `toml:"request_delay"`
	SendTimeout   Duration `toml:"send_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:         "127.0.0.1:2999",
		WSPath:             "/messages-sync",
		BatchSize:          500,
		BackfillMaxBatches: 20,
		ProbeInterval:      Duration(30 * time.Second),
		StaleAfter:         Duration(60 * time.Second),
		SettleDelay:        Duration(2 * time.Second),
		RequestDelay:       Duration(100 * time.Millisecond),
		SendTimeout:        Duration(10 * time.Second),
	}
}

// Load reads config from the given path. A missing file yields the defaults.
// Fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
