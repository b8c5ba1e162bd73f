// Package config holds the immutable settings of a run and loads them from
// flags, environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/guregu/null.v3"
)

// Keys of the run settings, as used in config files. Environment variables
// are the upper-cased keys prefixed with EnvPrefix.
const (
	KeyTargetURL           = "target_url"
	KeyDuration            = "duration"
	KeyOutputPath          = "output_path"
	KeyBrowserBinaryPath   = "browser_binary_path"
	KeyLaunchArguments     = "launch_arguments"
	KeySampleInterval      = "sample_interval"
	KeyDwellMin            = "dwell_min"
	KeyDwellMax            = "dwell_max"
	KeyStartPollInterval   = "start_poll_interval"
	KeyStartAttempts       = "start_attempts"
	KeyLocateTimeout       = "locate_timeout"
	KeyProbe               = "probe"
	KeyProbeHost           = "probe_host"
	KeyProbeCommand        = "probe_command"
	KeyProbeURL            = "probe_url"
	KeyProbeTimeout        = "probe_timeout"
	KeySeed                = "seed"
	KeyScreenshotOnFailure = "screenshot_on_failure"
	KeyMetricsTextfile     = "metrics_textfile"
	KeyOTelEndpoint        = "otel_endpoint"
	KeyLogLevel            = "log_level"
	KeyLogFile             = "log_file"
	KeyLogCategoryFilter   = "log_category_filter"

	EnvPrefix = "PAUSESIM"
)

// Latency probe kinds.
const (
	ProbePing = "ping"
	ProbeHTTP = "http"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// RunConfig is the configuration of a single run. It doesn't change once
// the run has started.
type RunConfig struct {
	TargetURL         string
	Duration          time.Duration
	OutputPath        string
	BrowserBinaryPath string
	LaunchArguments   []string

	SampleInterval    time.Duration
	DwellMin          int
	DwellMax          int
	StartPollInterval time.Duration
	// StartAttempts bounds the playback start wait. Zero waits until the
	// run is cancelled.
	StartAttempts int
	LocateTimeout time.Duration

	Probe        string
	ProbeHost    string
	ProbeCommand []string
	ProbeURL     string
	ProbeTimeout time.Duration

	// Seed makes dwell lengths reproducible. Unset seeds from the clock.
	Seed                null.Int
	ScreenshotOnFailure null.String
	MetricsTextfile     null.String
	OTelEndpoint        null.String

	LogLevel          string
	LogFile           null.String
	LogCategoryFilter string
}

// Default returns a configuration with every optional setting at its
// default.
func Default() RunConfig {
	return RunConfig{
		OutputPath:        "trace.json",
		SampleInterval:    time.Second,
		DwellMin:          5,
		DwellMax:          10,
		StartPollInterval: time.Second,
		StartAttempts:     300,
		LocateTimeout:     10 * time.Second,
		Probe:             ProbePing,
		ProbeHost:         "www.youtube.com",
		ProbeCommand:      []string{"ping", "-c", "1"},
		ProbeURL:          "https://www.youtube.com/generate_204",
		ProbeTimeout:      5 * time.Second,
		LogLevel:          logrus.InfoLevel.String(),
	}
}

// SetDefaults registers the defaults with v, so that config files and the
// environment only need to carry what they change.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyOutputPath, d.OutputPath)
	v.SetDefault(KeySampleInterval, d.SampleInterval.String())
	v.SetDefault(KeyDwellMin, d.DwellMin)
	v.SetDefault(KeyDwellMax, d.DwellMax)
	v.SetDefault(KeyStartPollInterval, d.StartPollInterval.String())
	v.SetDefault(KeyStartAttempts, d.StartAttempts)
	v.SetDefault(KeyLocateTimeout, d.LocateTimeout.String())
	v.SetDefault(KeyProbe, d.Probe)
	v.SetDefault(KeyProbeHost, d.ProbeHost)
	v.SetDefault(KeyProbeCommand, strings.Join(d.ProbeCommand, " "))
	v.SetDefault(KeyProbeURL, d.ProbeURL)
	v.SetDefault(KeyProbeTimeout, d.ProbeTimeout.String())
	v.SetDefault(KeyLogLevel, d.LogLevel)
}

// Load reads a RunConfig out of v, falling back to the defaults for what v
// doesn't set. It doesn't validate it.
func Load(v *viper.Viper) (RunConfig, error) {
	SetDefaults(v)

	var (
		c   = Default()
		err error
	)

	c.TargetURL = v.GetString(KeyTargetURL)
	c.OutputPath = v.GetString(KeyOutputPath)
	c.BrowserBinaryPath = v.GetString(KeyBrowserBinaryPath)
	c.DwellMin = v.GetInt(KeyDwellMin)
	c.DwellMax = v.GetInt(KeyDwellMax)
	c.StartAttempts = v.GetInt(KeyStartAttempts)
	c.Probe = strings.ToLower(v.GetString(KeyProbe))
	c.ProbeHost = v.GetString(KeyProbeHost)
	c.ProbeURL = v.GetString(KeyProbeURL)
	c.LogLevel = v.GetString(KeyLogLevel)
	c.LogCategoryFilter = v.GetString(KeyLogCategoryFilter)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyDuration, &c.Duration},
		{KeySampleInterval, &c.SampleInterval},
		{KeyStartPollInterval, &c.StartPollInterval},
		{KeyLocateTimeout, &c.LocateTimeout},
		{KeyProbeTimeout, &c.ProbeTimeout},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			continue
		}
		if *d.dst, err = ParseSeconds(v.Get(d.key)); err != nil {
			return RunConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalid, d.key, err)
		}
	}

	if c.LaunchArguments, err = stringList(v.Get(KeyLaunchArguments)); err != nil {
		return RunConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalid, KeyLaunchArguments, err)
	}
	if v.IsSet(KeyProbeCommand) {
		if c.ProbeCommand, err = stringList(v.Get(KeyProbeCommand)); err != nil {
			return RunConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalid, KeyProbeCommand, err)
		}
	}

	if v.IsSet(KeySeed) && v.GetString(KeySeed) != "" {
		seed, err := cast.ToInt64E(v.Get(KeySeed))
		if err != nil {
			return RunConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalid, KeySeed, err)
		}
		c.Seed = null.IntFrom(seed)
	}
	c.ScreenshotOnFailure = optionalString(v, KeyScreenshotOnFailure)
	c.MetricsTextfile = optionalString(v, KeyMetricsTextfile)
	c.OTelEndpoint = optionalString(v, KeyOTelEndpoint)
	c.LogFile = optionalString(v, KeyLogFile)

	return c, nil
}

// Validate checks every setting of c.
func (c RunConfig) Validate() error {
	u, err := url.Parse(c.TargetURL)
	switch {
	case c.TargetURL == "":
		return invalid(KeyTargetURL, "is required")
	case err != nil:
		return invalid(KeyTargetURL, err.Error())
	case u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file":
		return invalid(KeyTargetURL, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	case c.Duration < 0:
		return invalid(KeyDuration, "must not be negative")
	case c.OutputPath == "":
		return invalid(KeyOutputPath, "is required")
	case c.SampleInterval <= 0:
		return invalid(KeySampleInterval, "must be positive")
	case c.DwellMin < 1:
		return invalid(KeyDwellMin, "must be at least 1")
	case c.DwellMax < c.DwellMin:
		return invalid(KeyDwellMax, fmt.Sprintf("must not be less than %s (%d)", KeyDwellMin, c.DwellMin))
	case c.StartPollInterval <= 0:
		return invalid(KeyStartPollInterval, "must be positive")
	case c.StartAttempts < 0:
		return invalid(KeyStartAttempts, "must not be negative")
	case c.LocateTimeout <= 0:
		return invalid(KeyLocateTimeout, "must be positive")
	}

	switch c.Probe {
	case ProbePing:
		if len(c.ProbeCommand) == 0 {
			return invalid(KeyProbeCommand, "is required for the ping probe")
		}
		if c.ProbeHost == "" {
			return invalid(KeyProbeHost, "is required for the ping probe")
		}
	case ProbeHTTP:
		u, err := url.Parse(c.ProbeURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid(KeyProbeURL, fmt.Sprintf("%q is not an http(s) URL", c.ProbeURL))
		}
		if c.ProbeTimeout <= 0 {
			return invalid(KeyProbeTimeout, "must be positive")
		}
	default:
		return invalid(KeyProbe, fmt.Sprintf("unknown probe %q, want %q or %q", c.Probe, ProbePing, ProbeHTTP))
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return invalid(KeyLogLevel, err.Error())
	}

	return nil
}

func invalid(key, msg string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalid, key, msg)
}

// ParseSeconds reads a duration. Bare numbers are seconds, anything else
// must be a Go duration such as "90s" or "1m30s".
func ParseSeconds(v interface{}) (time.Duration, error) {
	switch n := v.(type) {
	case time.Duration:
		return n, nil
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		f, err := cast.ToFloat64E(n)
		if err != nil {
			return 0, err
		}
		return time.Duration(f * float64(time.Second)), nil
	}

	s := strings.TrimSpace(cast.ToString(v))
	if s == "" {
		return 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither seconds nor a duration", s)
	}

	return d, nil
}

// stringList reads a list of arguments given either as a list, or as a
// single string that's split the way a shell would.
func stringList(v interface{}) ([]string, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return l, nil
	case []interface{}:
		return cast.ToStringSliceE(l)
	case string:
		return shlex.Split(l)
	default:
		return nil, fmt.Errorf("unsupported argument list %T", v)
	}
}

func optionalString(v *viper.Viper, key string) null.String {
	s := v.GetString(key)
	if s == "" {
		return null.String{}
	}
	return null.StringFrom(s)
}
