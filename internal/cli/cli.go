// Package cli implements the cedartoy command line.
//
//	cedartoy render <job.yaml>    render every frame of a job file
//	cedartoy capabilities         list backends and output formats
//
// The render command logs to stderr. With --events it writes one JSON
// progress event per line to stdout, and with --redis-addr it also publishes
// them on a Redis channel. --metrics-addr serves Prometheus metrics for the
// duration of the run.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/gpu"
	"github.com/gogpu/cedartoy/metrics"
	"github.com/gogpu/cedartoy/output"
	"github.com/gogpu/cedartoy/progress"
	"github.com/gogpu/cedartoy/render"

	// Backends register themselves with gpu.
	_ "github.com/gogpu/cedartoy/backend/opengl"
	_ "github.com/gogpu/cedartoy/backend/software"
)

// Version is reported by --version.
var Version = "dev"

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:           "cedartoy",
		Short:         "Offline renderer for Shadertoy-style GLSL shaders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildRenderCommand())
	root.AddCommand(buildCapabilitiesCommand())
	return root
}

type renderFlags struct {
	backend      string
	logLevel     string
	logFormat    string
	events       bool
	redisAddr    string
	redisChannel string
	metricsAddr  string
	tempDir      string
}

func buildRenderCommand() *cobra.Command {
	var f renderFlags
	cmd := &cobra.Command{
		Use:   "render <job.yaml>",
		Short: "Render every frame of a job file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRender(ctx, f, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.backend, "backend", "", "GPU backend ("+strings.Join(gpu.Available(), ", ")+"); empty picks the first that opens")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fl.StringVar(&f.logFormat, "log-format", "text", "log format: text, json")
	fl.BoolVar(&f.events, "events", false, "write JSON progress events to stdout")
	fl.StringVar(&f.redisAddr, "redis-addr", "", "publish progress events to this Redis server")
	fl.StringVar(&f.redisChannel, "redis-channel", "cedartoy:progress", "Redis channel for progress events")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	fl.StringVar(&f.tempDir, "temp-dir", "", "directory for streamed tile spills")
	return cmd
}

func runRender(ctx context.Context, f renderFlags, jobPath string, stdout, stderr io.Writer) error {
	log := NewLogger(LogConfig{Level: f.logLevel, Format: f.logFormat, Output: stderr})
	cedartoy.SetLogger(log)
	defer cedartoy.SetLogger(nil)

	job, err := LoadJob(jobPath)
	if err != nil {
		return err
	}

	// Configuration and missing files are reported before a GPU context
	// exists.
	if err := render.Check(job); err != nil {
		return err
	}

	observers := progress.Multi{progress.LogObserver{Logger: log}}
	if f.events {
		observers = append(observers, progress.NewJSONObserver(stdout))
	}
	if f.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: f.redisAddr})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("cli: close redis client", "error", err)
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("cli: redis unreachable, events will be dropped", "addr", f.redisAddr, "error", err)
		}
		observers = append(observers, progress.NewRedisObserver(rdb, f.redisChannel))
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}
	if f.metricsAddr != "" {
		srv, err := startMetricsServer(f.metricsAddr, reg)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer srv.stop()
	}

	dev, err := openDevice(f.backend)
	if err != nil {
		return fmt.Errorf("%w: %w", cedartoy.ErrResource, err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Warn("cli: close device", "error", err)
		}
	}()
	log.Info("cli: backend selected", "backend", dev.Name())

	engine, err := render.New(job, dev, render.Options{
		Observer: observers,
		Metrics:  collector,
		TempDir:  f.tempDir,
	})
	if err != nil {
		return err
	}
	defer engine.Close()
	return engine.Run(ctx)
}

func openDevice(name string) (gpu.Device, error) {
	if name == "" {
		return gpu.Default()
	}
	return gpu.Open(name)
}

func buildCapabilitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List GPU backends and output formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeCapabilities(cmd.OutOrStdout())
		},
	}
}

func writeCapabilities(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "backends: %s\n\n", strings.Join(gpu.Available(), ", ")); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FORMAT\tEXT\tDEPTHS\tTEXTURES\tAVAILABLE")
	for _, c := range output.Capabilities() {
		depths := make([]string, len(c.Depths))
		textures := make([]string, len(c.Depths))
		for i, d := range c.Depths {
			depths[i] = string(d)
			textures[i] = gpu.FormatForDepth(d).WGPUName()
		}
		avail := "yes"
		if !c.Available {
			avail = "no: " + c.Reason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Format, c.Ext, strings.Join(depths, ","), strings.Join(textures, ","), avail)
	}
	return tw.Flush()
}
