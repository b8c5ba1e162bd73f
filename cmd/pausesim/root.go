package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/grafana/pausesim/config"
	"github.com/grafana/pausesim/storage"
	"github.com/grafana/pausesim/telemetry"
)

// version is set at build time.
var version = "dev" //nolint:gochecknoglobals

// runFunc runs a simulation with cfg, reporting to stdout and logging to
// stderr.
type runFunc func(ctx context.Context, cfg config.RunConfig, stdout, stderr io.Writer) error

func newRootCommand(stdout, stderr io.Writer, run runFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "pausesim",
		Short:         "pausesim records video player telemetry while pausing and resuming playback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(newRunCommand(run))
	root.AddCommand(newSummarizeCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newRunCommand(run runFunc) *cobra.Command {
	var (
		v       = viper.New()
		cfgFile string
		d       = config.Default()
	)

	cmd := &cobra.Command{
		Use:   "run [target_url]",
		Short: "Play a video, toggling playback, and write the telemetry trace",
		Long: `Play a video, toggling playback, and write the telemetry trace.

Every flag can also be set in the config file, using the flag name with
underscores, or in the environment as ` + config.EnvPrefix + `_<NAME>, e.g.
` + config.EnvPrefix + `_TARGET_URL. Durations are seconds or Go durations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(v, cfgFile, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	flags.String("target-url", "", "URL of the video page")
	flags.String("duration", "", "how long to keep toggling after playback starts")
	flags.StringP("output-path", "o", d.OutputPath, "trace file, YAML if it ends in .yaml or .yml")
	flags.String("browser-binary-path", "", "browser binary (default: the first Chromium in PATH)")
	flags.StringArray("launch-arguments", nil, "extra browser flag, repeatable")
	flags.String("sample-interval", d.SampleInterval.String(), "time between samples")
	flags.Int("dwell-min", d.DwellMin, "fewest samples between toggles")
	flags.Int("dwell-max", d.DwellMax, "most samples between toggles")
	flags.String("start-poll-interval", d.StartPollInterval.String(), "time between checks for playback start")
	flags.Int("start-attempts", d.StartAttempts, "checks for playback start before giving up, 0 for no limit")
	flags.String("locate-timeout", d.LocateTimeout.String(), "how long to wait for a player control")
	flags.String("probe", d.Probe, `latency probe, "ping" or "http"`)
	flags.String("probe-host", d.ProbeHost, "host the ping probe targets")
	flags.String("probe-command", strings.Join(d.ProbeCommand, " "), "ping command, the host is appended")
	flags.String("probe-url", d.ProbeURL, "URL the http probe sends HEAD requests to")
	flags.String("probe-timeout", d.ProbeTimeout.String(), "http probe timeout")
	flags.String("seed", "", "seed of the dwell lengths (default: random)")
	flags.String("screenshot-on-failure", "", "PNG file to capture the page in when the run fails")
	flags.String("metrics-textfile", "", "file to write Prometheus metrics of the run to")
	flags.String("otel-endpoint", "", "OTLP/HTTP endpoint to export spans to, e.g. http://localhost:4318")
	flags.String("log-level", d.LogLevel, "log level")
	flags.String("log-file", "", "also log to this file, rotated")
	flags.String("log-category-filter", "", "only log categories matching this regexp")

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		cobra.CheckErr(v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f))
	})

	return cmd
}

// loadRunConfig reads the run configuration from, in order of precedence,
// the command line, the environment, the config file and the defaults.
func loadRunConfig(v *viper.Viper, cfgFile string, args []string) (config.RunConfig, error) {
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return config.RunConfig{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	if len(args) > 0 {
		v.Set(config.KeyTargetURL, args[0])
	}

	cfg, err := config.Load(v)
	if err != nil {
		return config.RunConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.RunConfig{}, err
	}

	return cfg, nil
}

func newSummarizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <trace file>",
		Short: "Summarize a trace written by run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trace, err := storage.ReadTrace(args[0])
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), telemetry.Summarize(trace))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pausesim %s\n", version)
		},
	}
}
