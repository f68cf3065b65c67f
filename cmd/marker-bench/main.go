// Command marker-bench loads a directory of marker images and times how each
// detection strategy processes them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"github.com/ironsheep/marker-tools-mcp/internal/config"
	"github.com/ironsheep/marker-tools-mcp/internal/detection"
	"github.com/ironsheep/marker-tools-mcp/internal/harness"
	"github.com/ironsheep/marker-tools-mcp/internal/imaging"
	"github.com/ironsheep/marker-tools-mcp/internal/logger"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// newBackend is replaced in tests.
var newBackend = detection.NewBackend

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "marker-bench: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	strategies string
	overlayDir string
	jsonOut    bool
	version    bool
}

// parseFlags layers command-line flags over the loaded configuration. Only
// flags given explicitly override config and environment values.
func parseFlags(args []string, stderr io.Writer) (*config.Config, *options, error) {
	fs := flag.NewFlagSet("marker-bench", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "YAML config file")
	fs.StringVar(&opts.strategies, "strategy", "all", "Comma-separated strategies, or all: "+strings.Join(strategyNames(), ", "))
	fs.StringVar(&opts.overlayDir, "overlay-dir", "", "Write an overlay PNG per image here after the last strategy")
	fs.BoolVar(&opts.jsonOut, "json", false, "Print full reports as JSON instead of a table")
	fs.BoolVar(&opts.version, "version", false, "Print version information")

	dir := fs.String("dir", "", "Image directory")
	maxFiles := fs.Int("max-files", 0, "Maximum images to load, 0 for no limit")
	dpi := fs.Float64("dpi", 0, "PDF rasterization DPI")
	iterations := fs.Int("iterations", 0, "Times each strategy reruns the batch")
	workers := fs.Int("workers", 0, "Concurrent tasks, 0 for one per image")
	applyParams := fs.Bool("apply-params", false, "Apply the configured detector tuning")
	pyramidMin := fs.Int("pyramid-min", 0, "Lowest pyramid level (-6 to 0)")
	pyramidMax := fs.Int("pyramid-max", 0, "Highest pyramid level (0 to 6)")
	resampler := fs.String("resampler", "", "Pyramid resampler: "+strings.Join(imaging.Resamplers, ", "))
	backend := fs.String("backend", "", "Detection backend")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if opts.version {
		return nil, opts, nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			cfg.ImageDir = *dir
		case "max-files":
			cfg.MaxFiles = *maxFiles
		case "dpi":
			cfg.PDFDPI = *dpi
		case "iterations":
			cfg.Iterations = *iterations
		case "workers":
			cfg.Workers = *workers
		case "apply-params":
			cfg.ApplyParams = *applyParams
		case "pyramid-min":
			cfg.Pyramid.Min = *pyramidMin
		case "pyramid-max":
			cfg.Pyramid.Max = *pyramidMax
		case "resampler":
			cfg.Resampler = *resampler
		case "backend":
			cfg.Backend = *backend
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, opts, nil
}

func strategyNames() []string {
	var names []string
	for _, s := range harness.Strategies() {
		names = append(names, string(s))
	}
	return names
}

// parseStrategies accepts "all" or a comma-separated list of names.
func parseStrategies(list string) ([]harness.Strategy, error) {
	if list == "" || list == "all" {
		return harness.Strategies(), nil
	}
	var out []harness.Strategy
	for _, name := range strings.Split(list, ",") {
		s, err := harness.ParseStrategy(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.version {
		fmt.Fprintf(stdout, "marker-bench %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
		return nil
	}

	strategies, err := parseStrategies(opts.strategies)
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logger.NewConsole(stderr, level)

	backend, err := newBackend(cfg.Backend, cfg.Detector.Dictionary)
	if err != nil {
		return err
	}
	resampler, err := imaging.NewResampler(cfg.Resampler)
	if err != nil {
		return err
	}

	loaded, err := imaging.LoadDir(cfg.ImageDir, cfg.MaxFiles, cfg.PDFDPI)
	if err != nil {
		return err
	}
	for _, s := range loaded.Skipped {
		log.Warn().Str("path", s.Path).Str("reason", s.Reason).Msg("skipped")
	}
	if len(loaded.Frames) == 0 {
		return fmt.Errorf("no images found in %s", cfg.ImageDir)
	}
	log.Info().Str("dir", cfg.ImageDir).Int("images", len(loaded.Frames)).Msg("batch loaded")

	images := make([]*harness.Image, len(loaded.Frames))
	for i, f := range loaded.Frames {
		images[i] = harness.NewImage(f.Name, f.Pixels)
	}

	h, err := harness.New(backend, harness.Options{
		Iterations:  cfg.Iterations,
		ApplyParams: cfg.ApplyParams,
		Detector:    cfg.Detector,
		PyramidMin:  cfg.Pyramid.Min,
		PyramidMax:  cfg.Pyramid.Max,
		Workers:     cfg.Workers,
		Resampler:   resampler,
		Logger:      &log,
	})
	if err != nil {
		return err
	}

	reports, runErr := h.Compare(ctx, strategies, images)

	if opts.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		printTable(stdout, reports, h.Options())
	}

	if runErr != nil {
		return runErr
	}
	if opts.overlayDir != "" {
		return writeOverlays(opts.overlayDir, images, log)
	}
	return nil
}

func printTable(w io.Writer, reports []*harness.Report, opts harness.Options) {
	if len(reports) == 0 {
		return
	}
	host := reports[0].Host
	fmt.Fprintf(w, "backend %s on %s/%s, %d CPUs, GOMAXPROCS %d\n",
		reports[0].Backend, host.OS, host.Arch, host.LogicalCPUs, host.GoMaxProcs)
	workers := "one per image"
	if opts.Workers > 0 {
		workers = fmt.Sprint(opts.Workers)
	}
	fmt.Fprintf(w, "%d iterations, workers %s, pyramid levels [%d, %d]\n\n",
		opts.Iterations, workers, opts.PyramidMin, opts.PyramidMax)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "STRATEGY\tCONCURRENT\tIMAGES\tMARKERS\tFAILURES\tMEAN ms\tSTDDEV ms\t")
	for _, r := range reports {
		concurrent := "no"
		if r.Concurrent {
			concurrent = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.1f\t%.1f\t\n",
			r.Strategy, concurrent, r.Images, r.TotalMarkers, r.Failures, r.MeanMS, r.StdDevMS)
	}
	tw.Flush()
}

// overlayFileName turns a frame name such as "sheet.pdf#p2" into a file name.
func overlayFileName(name string) string {
	base, page, _ := strings.Cut(name, "#")
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if page != "" {
		base += "_" + page
	}
	return base + "-markers.png"
}

func writeOverlays(dir string, images []*harness.Image, log zerolog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create overlay dir: %w", err)
	}
	for _, im := range images {
		path := filepath.Join(dir, overlayFileName(im.Name))
		if err := imaging.WriteOverlay(path, im.Pixels, im.Markers, imaging.OverlayOptions{}); err != nil {
			return err
		}
		log.Debug().Str("path", path).Int("markers", len(im.Markers)).Msg("overlay written")
	}
	return nil
}
