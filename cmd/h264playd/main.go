package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/lanikai/h264play/internal/config"
	"github.com/lanikai/h264play/internal/logging"
	"github.com/lanikai/h264play/internal/media"
	"github.com/lanikai/h264play/internal/monitor"

	// Decoder backends
	_ "github.com/lanikai/h264play/internal/codec/ffmpeg"
	_ "github.com/lanikai/h264play/internal/codec/memcodec"
)

var log = logging.DefaultLogger.WithTag("h264playd")

var (
	flagConfig          string
	flagInput           string
	flagOutput          string
	flagWidth           int
	flagHeight          int
	flagMmap            bool
	flagDecoder         string
	flagFFmpeg          string
	flagInputBuffers    int
	flagOutputBuffers   int
	flagInputBufferSize int
	flagTimeout         time.Duration
	flagPace            time.Duration
	flagFlushTail       bool
	flagDrainTimeout    time.Duration
	flagLoop            bool
	flagMonitor         string
	flagLogLevel        string
	flagListDecoders    bool
	flagHelp            bool
	flagVersion         bool
)

func init() {
	d := config.Defaults()

	flag.StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	flag.StringVarP(&flagInput, "input", "i", "", "H.264 Annex B file")
	flag.StringVarP(&flagOutput, "output", "o", d.Output, "Raw I420 output")
	flag.IntVarP(&flagWidth, "width", "x", d.Width, "Picture width")
	flag.IntVarP(&flagHeight, "height", "y", d.Height, "Picture height")
	flag.BoolVar(&flagMmap, "mmap", d.Mmap, "Map the input file")
	flag.StringVarP(&flagDecoder, "decoder", "d", d.Decoder, "Decoder backend")
	flag.StringVar(&flagFFmpeg, "ffmpeg", d.FFmpeg, "ffmpeg binary")
	flag.IntVar(&flagInputBuffers, "input-buffers", d.InputBuffers, "Input pool size")
	flag.IntVar(&flagOutputBuffers, "output-buffers", d.OutputBuffers, "Output pool size")
	flag.IntVar(&flagInputBufferSize, "input-buffer-size", d.InputBufferSize, "Input buffer capacity")
	flag.DurationVar(&flagTimeout, "timeout", d.Timeout, "Buffer wait timeout")
	flag.DurationVar(&flagPace, "pace", d.Pace, "Delay between frames")
	flag.BoolVar(&flagFlushTail, "flush-tail", d.FlushTail, "Submit the final frame and drain")
	flag.DurationVar(&flagDrainTimeout, "drain-timeout", d.DrainTimeout, "Drain timeout")
	flag.BoolVarP(&flagLoop, "loop", "l", d.Loop, "Replay until interrupted")
	flag.StringVarP(&flagMonitor, "monitor", "m", d.Monitor, "Monitor listen address")
	flag.StringVar(&flagLogLevel, "log-level", "", "Logging directives")
	flag.BoolVar(&flagListDecoders, "list-decoders", false, "List decoder backends and exit")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")

	flag.Usage = help
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly on top.
func loadConfig() (config.Config, error) {
	cfg := config.Defaults()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return cfg, err
		}
	}

	set := flag.CommandLine.Changed
	if set("input") {
		cfg.Input = flagInput
	}
	if flag.NArg() > 0 {
		cfg.Input = flag.Arg(0)
	}
	if set("output") {
		cfg.Output = flagOutput
	}
	if set("width") {
		cfg.Width = flagWidth
	}
	if set("height") {
		cfg.Height = flagHeight
	}
	if set("mmap") {
		cfg.Mmap = flagMmap
	}
	if set("decoder") {
		cfg.Decoder = flagDecoder
	}
	if set("ffmpeg") {
		cfg.FFmpeg = flagFFmpeg
	}
	if set("input-buffers") {
		cfg.InputBuffers = flagInputBuffers
	}
	if set("output-buffers") {
		cfg.OutputBuffers = flagOutputBuffers
	}
	if set("input-buffer-size") {
		cfg.InputBufferSize = flagInputBufferSize
	}
	if set("timeout") {
		cfg.Timeout = flagTimeout
	}
	if set("pace") {
		cfg.Pace = flagPace
	}
	if set("flush-tail") {
		cfg.FlushTail = flagFlushTail
	}
	if set("drain-timeout") {
		cfg.DrainTimeout = flagDrainTimeout
	}
	if set("loop") {
		cfg.Loop = flagLoop
	}
	if set("monitor") {
		cfg.Monitor = flagMonitor
	}
	if set("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}
	if flagListDecoders {
		for _, name := range media.Decoders() {
			fmt.Println(name)
		}
		os.Exit(0)
	}

	if err := run(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		if err := logging.Configure(cfg.LogLevel); err != nil {
			return errors.Wrap(err, "log level")
		}
	}

	decoder, err := media.OpenDecoder(cfg.Decoder, cfg.DecoderOptions())
	if err != nil {
		return err
	}
	defer decoder.Close()

	sink, err := media.OpenSink(cfg.Output)
	if err != nil {
		return errors.Wrap(err, "open output")
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn("Closing %s: %v", cfg.Output, err)
		}
	}()

	// Stop cooperatively on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			log.Info("Received %v, stopping", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := cfg.PlayerOptions()
	var mon *monitor.Server
	if cfg.Monitor != "" {
		opts.Events = new(media.Flow)
		mon = monitor.New(cfg.Monitor, opts.Events)
	}

	player := media.NewPlayer(decoder, opts)
	if mon != nil {
		go func() {
			if err := mon.ListenAndServe(); err != http.ErrServerClosed {
				log.Warn("Monitor: %v", err)
			}
		}()
		defer mon.Shutdown(context.Background())
	}

	if err := player.StartContext(ctx, cfg.Input, sink, cfg.Width, cfg.Height); err != nil {
		return err
	}
	if mon != nil {
		mon.SetStats(player.Stats)
	}
	err = player.Wait()

	st := player.Stats()
	log.Info("%s: %d frames, %d submitted (%d bytes), %d skipped, %d rendered",
		st.State, st.Frames, st.Submitted, st.SubmittedBytes, st.Skipped, st.Rendered)
	return err
}
