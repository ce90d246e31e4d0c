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

// Command ncacbench stands up a CacheRuntime against a fake storage and
// network engine and drives a scripted read/write/flow workload through
// it, printing the resulting pool/dirty stats. It exists to exercise the
// cache stack end to end the way a host process would, without needing a
// real Trove storage backend or network driver wired in.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orangefs-go/ncac/internal/ncac/flow"
	"github.com/orangefs-go/ncac/internal/ncac/network"
	"github.com/orangefs-go/ncac/internal/ncac/request"
	"github.com/orangefs-go/ncac/internal/ncac/runtime"
	"github.com/orangefs-go/ncac/internal/ncac/storage"
	"github.com/orangefs-go/ncac/internal/ncaccfg"
	"github.com/orangefs-go/ncac/internal/ncaclog"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ncacbench",
	Short: "Drive a scripted workload through the non-blocking cache stack",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg ncaccfg.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("ncacbench: unmarshal config: %w", err)
		}
		if err := ncaccfg.Validate(&cfg); err != nil {
			return fmt.Errorf("ncacbench: invalid config: %w", err)
		}

		if err := ncaclog.InitLogFile(cfg.Logging.FilePath, ncaclog.LogRotateConfig{
			MaxFileSizeMB:   cfg.Logging.LogRotate.MaxFileSizeMb,
			BackupFileCount: cfg.Logging.LogRotate.BackupFileCount,
			Compress:        cfg.Logging.LogRotate.Compress,
		}, cfg.Logging.Severity, cfg.Logging.Format); err != nil {
			return fmt.Errorf("ncacbench: init log file: %w", err)
		}
		defer ncaclog.Close()

		return run(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	if err := ncaccfg.BindFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "ncacbench: reading config file: %v\n", err)
		os.Exit(1)
	}
}

// run wires a CacheRuntime over fake storage/network engines and puts it
// through one write, one read-back of the same extent, and one
// cache-to-network flow transfer, at a scale small enough to run in a few
// milliseconds.
func run(cfg ncaccfg.Config) error {
	ctx := context.Background()
	store := storage.NewFake()

	rt, err := runtime.New(cfg, store)
	if err != nil {
		return err
	}

	const (
		collection = 1
		object     = 42
	)

	writeDesc := request.Descriptor{
		Collection: collection,
		Handle:     object,
		Segments:   []request.Segment{{FileOffset: 0, Size: uint64(cfg.ExtentSizeBytes)}},
	}
	wh, _, err := rt.Request.WritePost(ctx, writeDesc)
	if err != nil {
		return fmt.Errorf("ncacbench: write_post: %w", err)
	}
	if err := rt.Request.Done(ctx, wh); err != nil {
		return fmt.Errorf("ncacbench: done(write): %w", err)
	}
	ncaclog.Infof("wrote %d bytes to collection=%d handle=%d", cfg.ExtentSizeBytes, collection, object)

	readDesc := writeDesc
	rh, _, err := rt.Request.ReadPost(ctx, readDesc)
	if err != nil {
		return fmt.Errorf("ncacbench: read_post: %w", err)
	}
	for {
		ready, _, err := rt.Request.Test(ctx, rh)
		if err != nil {
			return fmt.Errorf("ncacbench: test(read): %w", err)
		}
		if ready {
			break
		}
	}
	if err := rt.Request.Done(ctx, rh); err != nil {
		return fmt.Errorf("ncacbench: done(read): %w", err)
	}
	ncaclog.Infof("read back %d bytes from collection=%d handle=%d", cfg.ExtentSizeBytes, collection, object)

	net := network.NewFake()
	pipeline := rt.NewPipeline(net)
	f, err := pipeline.Post(ctx, flow.Descriptor{
		Collection:    collection,
		Handle:        object,
		FileOffset:    0,
		AggregateSize: uint64(cfg.ExtentSizeBytes),
		Direction:     flow.CacheToNetwork,
		Peer:          "bench-peer",
	})
	if err != nil {
		return fmt.Errorf("ncacbench: flow post: %w", err)
	}
	for !f.Done() {
		if _, err := pipeline.Drive(ctx); err != nil {
			return fmt.Errorf("ncacbench: flow drive: %w", err)
		}
		for net.Pending() > 0 {
			net.DeliverNext()
		}
	}
	if err := f.Err(); err != nil {
		return fmt.Errorf("ncacbench: flow completed with error: %w", err)
	}
	ncaclog.Infof("flow transferred %d bytes cache->network", f.TotalTransferred())

	stats := rt.Stats()
	fmt.Printf("pool: active=%d inactive=%d free=%d dirty=%d\n", stats.Active, stats.Inactive, stats.Free, stats.Dirty)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
