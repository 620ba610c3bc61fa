// ============================================================================
// Contract Net CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra-based command line surface and YAML configuration.
//
// Command structure:
//   contractnet                    # root command
//   ├── run                        # run allocation rounds from config
//   ├── sensors                    # run the sensor simulation
//   ├── status                     # show the loaded configuration
//   ├── --config, -c               # config file path (persistent)
//   └── --version
//
// The run command builds the in-process bus, the configured workers and a
// supervisor, allocates each configured job kind in order, waits for
// outstanding completions, and shuts everything down gracefully on
// SIGINT/SIGTERM. Exit code 0 on normal completion.
//
// Durations in the config file are integer milliseconds (deadline_ms,
// capability costs), avoiding unit ambiguity in YAML.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/contract-net/internal/bus"
	"github.com/ChuLiYu/contract-net/internal/metrics"
	"github.com/ChuLiYu/contract-net/internal/sensor"
	"github.com/ChuLiYu/contract-net/internal/supervisor"
	"github.com/ChuLiYu/contract-net/internal/worker"
	"github.com/ChuLiYu/contract-net/pkg/types"
)

// WorkerConfig describes one worker agent in the config file. Capability
// costs are integer milliseconds.
type WorkerConfig struct {
	ID           string           `yaml:"id"`
	Capabilities map[string]int64 `yaml:"capabilities_ms"`
}

// RoomConfig describes one simulated room.
type RoomConfig struct {
	Name         string   `yaml:"name"`
	Measurements []string `yaml:"measurements"`
	SensorCount  int      `yaml:"sensor_count"`
}

// Config is the complete system configuration.
type Config struct {
	Protocol struct {
		DeadlineMs   int64 `yaml:"deadline_ms"`
		BusBuffer    int   `yaml:"bus_buffer"`
		SettleWaitMs int64 `yaml:"settle_wait_ms"`
		StopWaitMs   int64 `yaml:"stop_wait_ms"`
	} `yaml:"protocol"`

	Workers []WorkerConfig `yaml:"workers"`

	Jobs []string `yaml:"jobs"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Sensors struct {
		Rooms           []RoomConfig `yaml:"rooms"`
		WindowSize      int          `yaml:"window_size"`
		PublishPeriodMs int64        `yaml:"publish_period_ms"`
		RunForMs        int64        `yaml:"run_for_ms"`
	} `yaml:"sensors"`
}

// Deadline returns the configured bid-collection window.
func (c *Config) Deadline() time.Duration {
	if c.Protocol.DeadlineMs <= 0 {
		return time.Second
	}
	return time.Duration(c.Protocol.DeadlineMs) * time.Millisecond
}

// SettleWait returns how long the driver waits for outstanding completions
// after the last round.
func (c *Config) SettleWait() time.Duration {
	if c.Protocol.SettleWaitMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Protocol.SettleWaitMs) * time.Millisecond
}

// StopWait returns the bound on waiting for in-flight executions at
// shutdown.
func (c *Config) StopWait() time.Duration {
	if c.Protocol.StopWaitMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Protocol.StopWaitMs) * time.Millisecond
}

// BusBuffer returns the dispatch buffer size for the in-process bus.
func (c *Config) BusBuffer() int {
	if c.Protocol.BusBuffer <= 0 {
		return 64
	}
	return c.Protocol.BusBuffer
}

var configFile string

// BuildCLI assembles the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "contractnet",
		Short: "Contract Net: market-based task allocation over a pub/sub bus",
		Long: `Contract Net runs allocation rounds between a supervisor and a pool of
heterogeneous workers:
- supervisor announces jobs, workers bid with cost estimates
- cheapest bid wins inside a fixed collection deadline
- the winner executes asynchronously and broadcasts completion`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSensorsCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run allocation rounds for the configured jobs",
		Long:  "Start the configured workers and a supervisor, then allocate each configured job kind in order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runProtocol(cfg)
		},
	}
}

func buildSensorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sensors",
		Short: "Run the sensor simulation",
		Long:  "Start the configured rooms' sensors, aggregators, detectors and console agents.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runSensors(cfg)
		},
	}
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the loaded configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return showStatus(cfg)
		},
	}
}

func runProtocol(cfg *Config) error {
	if len(cfg.Workers) == 0 {
		return fmt.Errorf("no workers configured")
	}
	if len(cfg.Jobs) == 0 {
		return fmt.Errorf("no jobs configured")
	}

	b := bus.NewMemoryBus(cfg.BusBuffer())
	b.Start()
	defer b.Stop()

	var supOpts []supervisor.Option
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		collector := metrics.NewCollector(reg)
		supOpts = append(supOpts, supervisor.WithMetrics(collector))
		go func() {
			fmt.Printf("metrics listening on :%d/metrics\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port, reg); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	workers := make([]*worker.Worker, 0, len(cfg.Workers))
	for _, wc := range cfg.Workers {
		caps := make(types.CapabilityTable, len(wc.Capabilities))
		for kind, ms := range wc.Capabilities {
			caps[types.JobKind(kind)] = time.Duration(ms) * time.Millisecond
		}
		w, err := worker.New(worker.Config{
			ID:           types.WorkerID(wc.ID),
			Capabilities: caps,
		}, b)
		if err != nil {
			return fmt.Errorf("failed to create worker: %w", err)
		}
		workers = append(workers, w)
	}

	sup := supervisor.New(b, supOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, kind := range cfg.Jobs {
		job := types.NewJob(types.JobKind(kind))
		winner, err := sup.Allocate(ctx, job, cfg.Deadline())
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\ninterrupted, shutting down...")
				break
			}
			return fmt.Errorf("allocation failed for kind %s: %w", kind, err)
		}
		if winner == nil {
			fmt.Printf("job %-4s -> no bids\n", kind)
			continue
		}
		fmt.Printf("job %-4s -> %s (cost %s)\n", kind, winner.WorkerID, winner.Cost)
	}

	// Give in-flight executions a chance to finish and report.
	select {
	case <-time.After(cfg.SettleWait()):
	case <-ctx.Done():
	}

	for _, w := range workers {
		if err := w.Stop(cfg.StopWait()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	stats := sup.Stats()
	fmt.Printf("\nrounds: %d  no-bid: %d\n", stats.Rounds, stats.NoBidRounds)
	for id, n := range stats.Completions {
		fmt.Printf("  %-12s completed %d job(s)\n", id, n)
	}
	return nil
}

func runSensors(cfg *Config) error {
	if len(cfg.Sensors.Rooms) == 0 {
		return fmt.Errorf("no rooms configured")
	}

	publishPeriod := 5 * time.Second
	if cfg.Sensors.PublishPeriodMs > 0 {
		publishPeriod = time.Duration(cfg.Sensors.PublishPeriodMs) * time.Millisecond
	}

	b := bus.NewMemoryBus(cfg.BusBuffer())
	b.Start()
	defer b.Stop()

	var sensors []*sensor.Sensor
	var averagers []*sensor.Averager
	for _, room := range cfg.Sensors.Rooms {
		count := room.SensorCount
		if count <= 0 {
			count = 1
		}
		for _, measurement := range room.Measurements {
			for i := 1; i <= count; i++ {
				id := fmt.Sprintf("%s-%s-%d", room.Name, measurement, i)
				sensors = append(sensors, sensor.New(b, room.Name, measurement, id))
			}
			averagers = append(averagers, sensor.NewAverager(b, room.Name, measurement, cfg.Sensors.WindowSize, publishPeriod))
			sensor.NewDetector(b, room.Name, measurement, cfg.Sensors.WindowSize)
		}
		sensor.NewConsole(b, room.Name)
	}

	for _, a := range averagers {
		a.Start()
	}
	for _, s := range sensors {
		s.Start()
	}
	fmt.Printf("sensor simulation running: %d sensor(s) in %d room(s)\n", len(sensors), len(cfg.Sensors.Rooms))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Sensors.RunForMs > 0 {
		select {
		case <-time.After(time.Duration(cfg.Sensors.RunForMs) * time.Millisecond):
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}

	fmt.Println("\nstopping sensor simulation...")
	for _, s := range sensors {
		s.Stop()
	}
	for _, a := range averagers {
		a.Stop()
	}
	return nil
}

func showStatus(cfg *Config) error {
	fmt.Println("Contract Net configuration")
	fmt.Println()
	fmt.Println("Protocol:")
	fmt.Printf("  └─ Deadline:     %s\n", cfg.Deadline())
	fmt.Printf("  └─ Settle Wait:  %s\n", cfg.SettleWait())
	fmt.Printf("  └─ Bus Buffer:   %d\n", cfg.BusBuffer())
	fmt.Println()

	fmt.Printf("Workers (%d):\n", len(cfg.Workers))
	for _, w := range cfg.Workers {
		fmt.Printf("  ├─ %s\n", w.ID)
		for kind, ms := range w.Capabilities {
			fmt.Printf("  │    %s: %s\n", kind, time.Duration(ms)*time.Millisecond)
		}
	}
	fmt.Println()

	fmt.Printf("Jobs: %v\n", cfg.Jobs)
	fmt.Println()

	fmt.Println("Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Printf("  └─ enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  └─ disabled")
	}
	fmt.Println()

	fmt.Printf("Sensor rooms (%d):\n", len(cfg.Sensors.Rooms))
	for _, room := range cfg.Sensors.Rooms {
		fmt.Printf("  └─ %s: %v\n", room.Name, room.Measurements)
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &cfg, nil
}
