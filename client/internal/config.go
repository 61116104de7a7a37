package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/util"
)

const (
	// DefaultRepository is the GitHub repository releases are looked up in
	DefaultRepository = "netbirdio/updater"
	// DefaultCheckInterval is how often the daemon looks for a new release on its own
	DefaultCheckInterval = 4 * time.Hour
	// DefaultGracePeriod is how long a downloaded update may wait before install is forced
	DefaultGracePeriod = 72 * time.Hour
	// DefaultForceInstallCountdown is the visible countdown once install is forced
	DefaultForceInstallCountdown = 60 * time.Second

	minCheckInterval = time.Minute
)

// Duration is a time.Duration stored in JSON as a string such as "72h"
type Duration struct {
	time.Duration
}

// MarshalJSON marshals the duration
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return errors.New("invalid duration")
	}
}

// ConfigInput carries configuration changes to the daemon
type ConfigInput struct {
	ConfigPath            string
	Repository            string
	ChecksumFile          *string
	CheckInterval         *time.Duration
	GracePeriod           *time.Duration
	ForceInstallCountdown *time.Duration
	AutoDownload          *bool
	MetricsEnabled        *bool
}

// Config Configuration type
type Config struct {
	// Repository is the owner/name slug of the GitHub repository holding the releases
	Repository            string
	// ChecksumFile names the release asset holding sha256 sums; empty disables validation
	ChecksumFile          string
	CheckInterval         Duration
	GracePeriod           Duration
	ForceInstallCountdown Duration
	AutoDownload          *bool
	MetricsEnabled        bool
}

// ReadConfig reads existing configuration or creates a new one with defaults
func ReadConfig(configPath string) (*Config, error) {
	if util.FileExists(configPath) {
		config := &Config{}
		if _, err := util.ReadJson(configPath, config); err != nil {
			return nil, err
		}
		// initialize through apply() without changes
		if changed, err := config.apply(ConfigInput{}); err != nil {
			return nil, err
		} else if changed {
			if err = WriteOutConfig(configPath, config); err != nil {
				return nil, err
			}
		}

		return config, nil
	}

	cfg, err := createNewConfig(ConfigInput{ConfigPath: configPath})
	if err != nil {
		return nil, err
	}

	err = WriteOutConfig(configPath, cfg)
	return cfg, err
}

// UpdateOrCreateConfig reads existing config or generates a new one, applying the input on top
func UpdateOrCreateConfig(input ConfigInput) (*Config, error) {
	if !util.FileExists(input.ConfigPath) {
		log.Infof("generating new config %s", input.ConfigPath)
		cfg, err := createNewConfig(input)
		if err != nil {
			return nil, err
		}
		err = WriteOutConfig(input.ConfigPath, cfg)
		return cfg, err
	}

	config := &Config{}
	if _, err := util.ReadJson(input.ConfigPath, config); err != nil {
		return nil, err
	}

	updated, err := config.apply(input)
	if err != nil {
		return nil, err
	}

	if updated {
		if err := WriteOutConfig(input.ConfigPath, config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WriteOutConfig write put the prepared config to the given path
func WriteOutConfig(path string, config *Config) error {
	return util.WriteJsonWithRestrictedPermission(context.Background(), path, config)
}

func createNewConfig(input ConfigInput) (*Config, error) {
	config := &Config{}
	if _, err := config.apply(input); err != nil {
		return nil, err
	}
	return config, nil
}

func (config *Config) apply(input ConfigInput) (updated bool, err error) {
	if input.Repository != "" && input.Repository != config.Repository {
		log.Infof("new release repository provided, updated to %s (old value %s)", input.Repository, config.Repository)
		config.Repository = input.Repository
		updated = true
	} else if config.Repository == "" {
		config.Repository = DefaultRepository
		updated = true
	}
	if owner, name, ok := strings.Cut(config.Repository, "/"); !ok || owner == "" || name == "" {
		return false, fmt.Errorf("invalid repository %q, expected owner/name", config.Repository)
	}

	if input.ChecksumFile != nil && *input.ChecksumFile != config.ChecksumFile {
		config.ChecksumFile = *input.ChecksumFile
		updated = true
	}

	if input.CheckInterval != nil && *input.CheckInterval != config.CheckInterval.Duration {
		config.CheckInterval.Duration = *input.CheckInterval
		updated = true
	} else if config.CheckInterval.Duration == 0 {
		config.CheckInterval.Duration = DefaultCheckInterval
		updated = true
	}
	if config.CheckInterval.Duration < minCheckInterval {
		log.Warnf("check interval %s is too short, using %s", config.CheckInterval.Duration, minCheckInterval)
		config.CheckInterval.Duration = minCheckInterval
		updated = true
	}

	if input.GracePeriod != nil && *input.GracePeriod != config.GracePeriod.Duration {
		config.GracePeriod.Duration = *input.GracePeriod
		updated = true
	} else if config.GracePeriod.Duration == 0 {
		config.GracePeriod.Duration = DefaultGracePeriod
		updated = true
	}

	if input.ForceInstallCountdown != nil && *input.ForceInstallCountdown != config.ForceInstallCountdown.Duration {
		config.ForceInstallCountdown.Duration = *input.ForceInstallCountdown
		updated = true
	} else if config.ForceInstallCountdown.Duration == 0 {
		config.ForceInstallCountdown.Duration = DefaultForceInstallCountdown
		updated = true
	}

	if input.AutoDownload != nil && (config.AutoDownload == nil || *input.AutoDownload != *config.AutoDownload) {
		v := *input.AutoDownload
		config.AutoDownload = &v
		updated = true
	} else if config.AutoDownload == nil {
		v := true
		config.AutoDownload = &v
		updated = true
	}

	if input.MetricsEnabled != nil && *input.MetricsEnabled != config.MetricsEnabled {
		config.MetricsEnabled = *input.MetricsEnabled
		updated = true
	}

	return updated, nil
}
