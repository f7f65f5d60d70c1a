package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Remote holds the endpoints of the hosted backend services.
type Remote struct {
	// DatabaseURL is the base URL of the realtime database REST surface,
	// e.g. "https://pingme-default-rtdb.example.com".
	DatabaseURL string `toml:"database_url"`
	// AuthURL is the base URL of the identity endpoint.
	AuthURL string `toml:"auth_url"`
	// AuthKey is the API key appended to identity requests.
	AuthKey string `toml:"auth_key"`
	// PushURL is the push gateway endpoint that fans out notifications
	// to device push tokens.
	PushURL string `toml:"push_url"`
	// StorageURL is the media upload endpoint.
	StorageURL string `toml:"storage_url"`
}

// Config represents the global ~/.pingme/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	// DevicePushToken is this device's push token. It is registered for
	// the signed-in user at login and deregistered at logout.
	DevicePushToken string `toml:"device_push_token"`
	Remote          Remote `toml:"remote"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
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
