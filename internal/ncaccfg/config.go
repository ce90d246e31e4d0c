// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ncaccfg is the cache's configuration surface: a Config struct
// bound via spf13/pflag + spf13/viper, with yaml tags for file-based
// configuration.
package ncaccfg

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SyncPolicy selects how aggressively done() flushes dirty extents back
// to the storage engine (spec §4.4 "sync policy").
type SyncPolicy string

const (
	SyncAggressive SyncPolicy = "aggressive"
	SyncLazy       SyncPolicy = "lazy"
)

func (p *SyncPolicy) UnmarshalText(text []byte) error {
	v := SyncPolicy(text)
	if v != SyncAggressive && v != SyncLazy {
		return fmt.Errorf("ncaccfg: invalid sync-policy %q, want %q or %q", text, SyncAggressive, SyncLazy)
	}
	*p = v
	return nil
}

// LogRotateConfig mirrors the teacher's LogRotateLoggingConfig.
type LogRotateConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// LoggingConfig mirrors the teacher's LoggingConfig (spec §1.1).
type LoggingConfig struct {
	Severity  string          `yaml:"severity"`
	Format    string          `yaml:"format"`
	FilePath  string          `yaml:"file-path"`
	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

// Config is the cache's full configuration surface (spec §1.2, grounded
// on cfg.Config).
type Config struct {
	ExtentSizeBytes   int64 `yaml:"extent-size-bytes"`
	CacheSizeBytes    int64 `yaml:"cache-size-bytes"`
	MaxRequestCount   int   `yaml:"max-request-count"`
	InodeTableBuckets int   `yaml:"inode-table-buckets"`

	SyncPolicy SyncPolicy `yaml:"sync-policy"`

	// DirtyHighWaterMark is the §9 "ratelimits" placeholder turned into a
	// concrete config field: the per-inode dirty-extent count at which the
	// lazy sync policy triggers a write-back from done(). The aggressive
	// policy ignores it, and it is never enforced as a hard
	// admission-control limit.
	DirtyHighWaterMark int `yaml:"dirty-high-water-mark"`

	// ShrinkStep is validated but not passed to the cache: the request
	// engine always reclaims pool.ShrinkStep (5) extents per shrink cycle.
	ShrinkStep int `yaml:"shrink-step"`

	Logging LoggingConfig `yaml:"logging"`
}

// GetDefaultConfig returns the configuration used before any flags or
// config file have been parsed (mirrors cfg.GetDefaultLoggingConfig).
func GetDefaultConfig() Config {
	return Config{
		ExtentSizeBytes:   64 * 1024,
		CacheSizeBytes:    64 * 1024 * 1024,
		MaxRequestCount:   256,
		InodeTableBuckets: 1024,
		SyncPolicy:        SyncLazy,
		DirtyHighWaterMark: 64,
		ShrinkStep:        5,
		Logging: LoggingConfig{
			Severity: "INFO",
			Format:   "json",
			LogRotate: LogRotateConfig{
				MaxFileSizeMb:   512,
				BackupFileCount: 10,
				Compress:        true,
			},
		},
	}
}

// BindFlags registers every config field as a flag and binds it into
// viper, exactly as the teacher's generated cfg.BindFlags does.
func BindFlags(flagSet *pflag.FlagSet) error {
	def := GetDefaultConfig()

	flagSet.Int64P("extent-size-bytes", "", def.ExtentSizeBytes, "Size in bytes of one cache extent; must be a power of two.")
	if err := viper.BindPFlag("extent-size-bytes", flagSet.Lookup("extent-size-bytes")); err != nil {
		return err
	}

	flagSet.Int64P("cache-size-bytes", "", def.CacheSizeBytes, "Total size in bytes of the extent pool; must be a multiple of extent-size-bytes.")
	if err := viper.BindPFlag("cache-size-bytes", flagSet.Lookup("cache-size-bytes")); err != nil {
		return err
	}

	flagSet.IntP("max-request-count", "", def.MaxRequestCount, "Size of the fixed internal request pool.")
	if err := viper.BindPFlag("max-request-count", flagSet.Lookup("max-request-count")); err != nil {
		return err
	}

	flagSet.IntP("inode-table-buckets", "", def.InodeTableBuckets, "Bucket count of the inode hash table; rounded up to a power of two.")
	if err := viper.BindPFlag("inode-table-buckets", flagSet.Lookup("inode-table-buckets")); err != nil {
		return err
	}

	flagSet.StringP("sync-policy", "", string(def.SyncPolicy), "Write-back policy: aggressive or lazy.")
	if err := viper.BindPFlag("sync-policy", flagSet.Lookup("sync-policy")); err != nil {
		return err
	}

	flagSet.IntP("dirty-high-water-mark", "", def.DirtyHighWaterMark, "Dirty extent count above which the lazy sync policy starts writing back.")
	if err := viper.BindPFlag("dirty-high-water-mark", flagSet.Lookup("dirty-high-water-mark")); err != nil {
		return err
	}

	flagSet.IntP("shrink-step", "", def.ShrinkStep, "Validated only; the cache always reclaims 5 extents per pool-shrink cycle.")
	if err := viper.BindPFlag("shrink-step", flagSet.Lookup("shrink-step")); err != nil {
		return err
	}

	flagSet.StringP("logging-severity", "", def.Logging.Severity, "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("logging-severity")); err != nil {
		return err
	}

	flagSet.StringP("logging-format", "", def.Logging.Format, "Log line format: text or json.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup("logging-format")); err != nil {
		return err
	}

	flagSet.StringP("logging-file", "", def.Logging.FilePath, "Path to a log file; empty logs to stderr.")
	if err := viper.BindPFlag("logging.file-path", flagSet.Lookup("logging-file")); err != nil {
		return err
	}

	return nil
}

// Validate enforces the power-of-two / multiple-of constraints spec §6
// places on extent_size and cache_size, plus the closed sync-policy set.
func Validate(c *Config) error {
	if c.ExtentSizeBytes <= 0 || c.ExtentSizeBytes&(c.ExtentSizeBytes-1) != 0 {
		return fmt.Errorf("ncaccfg: extent-size-bytes %d must be a positive power of two", c.ExtentSizeBytes)
	}
	if c.CacheSizeBytes <= 0 || c.CacheSizeBytes%c.ExtentSizeBytes != 0 {
		return fmt.Errorf("ncaccfg: cache-size-bytes %d must be a positive multiple of extent-size-bytes %d", c.CacheSizeBytes, c.ExtentSizeBytes)
	}
	if c.MaxRequestCount <= 0 {
		return fmt.Errorf("ncaccfg: max-request-count must be positive")
	}
	if c.InodeTableBuckets <= 0 {
		return fmt.Errorf("ncaccfg: inode-table-buckets must be positive")
	}
	if c.SyncPolicy != SyncAggressive && c.SyncPolicy != SyncLazy {
		return fmt.Errorf("ncaccfg: sync-policy %q must be %q or %q", c.SyncPolicy, SyncAggressive, SyncLazy)
	}
	if c.DirtyHighWaterMark < 0 {
		return fmt.Errorf("ncaccfg: dirty-high-water-mark must not be negative")
	}
	if c.ShrinkStep <= 0 {
		return fmt.Errorf("ncaccfg: shrink-step must be positive")
	}
	return nil
}
