// Package config holds the player configuration, loaded from YAML and then
// overridden by command line flags.
package config

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lanikai/h264play/internal/media"
)

type Config struct {
	// Input/Output
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Mmap   bool   `yaml:"mmap"`

	// Decoder
	Decoder         string `yaml:"decoder"`
	FFmpeg          string `yaml:"ffmpeg"`
	InputBuffers    int    `yaml:"input_buffers"`
	OutputBuffers   int    `yaml:"output_buffers"`
	InputBufferSize int    `yaml:"input_buffer_size"`

	// Feed loop
	Timeout      time.Duration `yaml:"timeout"`
	Pace         time.Duration `yaml:"pace"`
	FlushTail    bool          `yaml:"flush_tail"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	Loop         bool          `yaml:"loop"`

	// Monitor listen address, e.g. ":8000". Empty disables the monitor.
	Monitor string `yaml:"monitor"`

	// Logging directives, as for $LOGLEVEL.
	LogLevel string `yaml:"log_level"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		Output: "-",
		Width:  1280,
		Height: 720,

		Decoder:         "ffmpeg",
		InputBuffers:    4,
		OutputBuffers:   4,
		InputBufferSize: 1 << 20,

		Timeout:      10 * time.Millisecond,
		Pace:         100 * time.Millisecond,
		FlushTail:    true,
		DrainTimeout: time.Second,
	}
}

// Load reads a YAML file on top of the defaults. Keys absent from the file
// keep their default values.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Input == "":
		return errors.New("no input file")
	case c.Width <= 0 || c.Height <= 0:
		return errors.Errorf("invalid dimensions %dx%d", c.Width, c.Height)
	case c.Decoder == "":
		return errors.New("no decoder")
	case c.InputBuffers <= 0 || c.OutputBuffers <= 0:
		return errors.Errorf("buffer pools need at least one buffer (input %d, output %d)", c.InputBuffers, c.OutputBuffers)
	case c.InputBufferSize <= 0:
		return errors.Errorf("invalid input buffer size %d", c.InputBufferSize)
	case c.Timeout <= 0:
		return errors.Errorf("timeout must be positive, got %v", c.Timeout)
	case c.Pace < 0:
		return errors.Errorf("pace must not be negative, got %v", c.Pace)
	case c.DrainTimeout <= 0:
		return errors.Errorf("drain timeout must be positive, got %v", c.DrainTimeout)
	}
	return nil
}

// DecoderOptions returns the options for opening the configured backend.
func (c *Config) DecoderOptions() media.DecoderOptions {
	return media.DecoderOptions{
		InputBuffers:    c.InputBuffers,
		OutputBuffers:   c.OutputBuffers,
		InputBufferSize: c.InputBufferSize,
		Command:         c.FFmpeg,
	}
}

// PlayerOptions returns the feed loop and input settings. A zero pace means
// no delay between cycles.
func (c *Config) PlayerOptions() media.PlayerOptions {
	pace := c.Pace
	if pace == 0 {
		pace = -1
	}
	return media.PlayerOptions{
		Feed: media.FeedOptions{
			Timeout:      c.Timeout,
			Pace:         pace,
			FlushTail:    c.FlushTail,
			DrainTimeout: c.DrainTimeout,
			Loop:         c.Loop,
		},
		Mmap: c.Mmap,
	}
}
