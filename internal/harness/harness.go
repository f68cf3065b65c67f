package harness

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/marker-tools-mcp/internal/detection"
	"github.com/ironsheep/marker-tools-mcp/internal/imaging"
	"github.com/ironsheep/marker-tools-mcp/internal/marker"
	"github.com/ironsheep/marker-tools-mcp/internal/pyramid"
)

// ErrDetectorPanic wraps a panic recovered from a detector inside one task.
var ErrDetectorPanic = errors.New("harness: detector panicked")

// Options configure a Harness.
type Options struct {
	// Iterations is how many times Run repeats the batch. Zero means 1.
	Iterations int

	// ApplyParams configures full detectors with Detector. When false they
	// keep the backend defaults.
	ApplyParams bool

	// Detector is the tuning applied when ApplyParams is set.
	Detector detection.Config

	// PyramidMin and PyramidMax bound the levels searched by the pyramid
	// strategy. PyramidMin <= 0 <= PyramidMax.
	PyramidMin int
	PyramidMax int

	// Workers limits how many tasks run at once. Zero starts one goroutine
	// per image.
	Workers int

	// Resampler builds pyramid levels. Nil uses imaging.DefaultResampler.
	Resampler imaging.Resampler

	// Logger receives progress output. Nil disables logging.
	Logger *zerolog.Logger
}

func (o Options) validate() error {
	if o.Iterations < 0 {
		return fmt.Errorf("iterations must not be negative, got %d", o.Iterations)
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", o.Workers)
	}
	if err := pyramid.ValidateRange(o.PyramidMin, o.PyramidMax); err != nil {
		return err
	}
	if o.ApplyParams {
		if err := o.Detector.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Harness runs batches through detection strategies on one backend.
//
// A Harness holds no per-run state; concurrent Run calls are safe as long
// as they are given disjoint images.
type Harness struct {
	backend   detection.Backend
	opts      Options
	resampler imaging.Resampler
	log       zerolog.Logger
}

// New returns a harness for backend. Options are validated here so Run only
// fails for reasons that depend on the backend.
func New(backend detection.Backend, opts Options) (*Harness, error) {
	if backend == nil {
		return nil, errors.New("harness: nil backend")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Iterations == 0 {
		opts.Iterations = 1
	}

	h := &Harness{
		backend:   backend,
		opts:      opts,
		resampler: opts.Resampler,
		log:       zerolog.Nop(),
	}
	if h.resampler == nil {
		h.resampler = imaging.DefaultResampler()
	}
	if opts.Logger != nil {
		h.log = opts.Logger.With().Str("component", "harness").Logger()
	}
	return h, nil
}

// Options returns the effective options.
func (h *Harness) Options() Options {
	return h.opts
}

// Run processes images with strategy Iterations times and reports on the run.
//
// Per-image failures are recorded in the images and the report, never
// returned. Run returns an error only when the strategy cannot start; in
// that case the report covers the iterations that completed, if any.
//
// The first iteration always visits every image; tasks that start after ctx
// is cancelled record ctx.Err() as their image's error. A context cancelled
// between iterations stops the run with ctx.Err().
func (h *Harness) Run(ctx context.Context, strategy Strategy, images []*Image) (*Report, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	report := newReport(strategy, h.backend.Name(), images)
	log := h.log.With().
		Str("run_id", report.RunID).
		Str("strategy", string(strategy)).
		Bool("concurrent", strategy.Concurrent()).
		Logger()
	log.Info().Int("images", len(images)).Int("iterations", h.opts.Iterations).Msg("run started")

	for i := 0; i < h.opts.Iterations; i++ {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				report.finish(images)
				return report, err
			}
		}

		for _, im := range images {
			im.reset()
		}

		start := time.Now()
		if err := h.runOnce(ctx, strategy, images, log); err != nil {
			report.finish(images)
			return report, fmt.Errorf("%s iteration %d: %w", strategy, i+1, err)
		}
		elapsed := time.Since(start)

		stat := report.addIteration(elapsed, images)
		log.Info().
			Int("iteration", stat.Index).
			Dur("elapsed", elapsed).
			Int("markers", stat.Markers).
			Int("failures", stat.Failures).
			Msg("markers found in total")
	}

	report.finish(images)
	return report, nil
}

// Compare runs each strategy in turn over the same images. It stops at the
// first strategy that cannot start and returns the reports gathered so far.
func (h *Harness) Compare(ctx context.Context, strategies []Strategy, images []*Image) ([]*Report, error) {
	reports := make([]*Report, 0, len(strategies))
	for _, s := range strategies {
		r, err := h.Run(ctx, s, images)
		if r != nil {
			reports = append(reports, r)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func (h *Harness) runOnce(ctx context.Context, strategy Strategy, images []*Image, log zerolog.Logger) error {
	switch strategy {
	case Serial:
		return h.runSerial(ctx, images, log)
	case Shared:
		return h.runShared(ctx, images, log)
	case FastShared:
		return h.runFastShared(ctx, images, log)
	case Cloned:
		return h.runCloned(ctx, images, log)
	case Pyramid:
		return h.runPyramid(ctx, images, log)
	}
	return fmt.Errorf("unknown strategy: %s", strategy)
}

// newConfigured builds a full detector and applies the options' tuning.
func (h *Harness) newConfigured() (detection.ConfigurableDetector, error) {
	d, err := h.backend.NewFull()
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	if h.opts.ApplyParams {
		if err := d.Configure(h.opts.Detector); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to configure detector: %w", err)
		}
	}
	return d, nil
}

func (h *Harness) runSerial(ctx context.Context, images []*Image, log zerolog.Logger) error {
	d, err := h.newConfigured()
	if err != nil {
		return err
	}
	defer d.Close()

	for _, im := range images {
		h.runTask(ctx, im, log, func(px *image.Gray) ([]marker.Marker, error) {
			return d.Detect(px)
		})
	}
	return nil
}

func (h *Harness) runShared(ctx context.Context, images []*Image, log zerolog.Logger) error {
	d, err := h.newConfigured()
	if err != nil {
		return err
	}
	defer d.Close()

	h.dispatch(ctx, images, log, func(px *image.Gray) ([]marker.Marker, error) {
		return d.Detect(px)
	})
	return nil
}

func (h *Harness) runFastShared(ctx context.Context, images []*Image, log zerolog.Logger) error {
	d, err := h.backend.NewFast()
	if err != nil {
		return fmt.Errorf("failed to create fast detector: %w", err)
	}
	defer d.Close()

	h.dispatch(ctx, images, log, func(px *image.Gray) ([]marker.Marker, error) {
		return d.Detect(px)
	})
	return nil
}

func (h *Harness) runCloned(ctx context.Context, images []*Image, log zerolog.Logger) error {
	source, err := h.newConfigured()
	if err != nil {
		return err
	}
	data, err := source.Config().MarshalBinary()
	source.Close()
	if err != nil {
		return fmt.Errorf("failed to serialize detector config: %w", err)
	}

	h.dispatch(ctx, images, log, func(px *image.Gray) ([]marker.Marker, error) {
		d, err := detection.Clone(h.backend, data)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return d.Detect(px)
	})
	return nil
}

func (h *Harness) runPyramid(ctx context.Context, images []*Image, log zerolog.Logger) error {
	h.dispatch(ctx, images, log, func(px *image.Gray) ([]marker.Marker, error) {
		d, err := h.backend.NewFast()
		if err != nil {
			return nil, fmt.Errorf("failed to create fast detector: %w", err)
		}
		defer d.Close()

		p := pyramid.New(d, pyramid.WithResampler(h.resampler), pyramid.WithLogger(log))
		return p.Detect(px, h.opts.PyramidMin, h.opts.PyramidMax)
	})
	return nil
}

// detectFunc produces the markers for one image.
type detectFunc func(px *image.Gray) ([]marker.Marker, error)

// dispatch runs task for every image concurrently and waits for all of them.
// Tasks never return errors to the group, so one failure cannot cancel or
// hide another.
func (h *Harness) dispatch(ctx context.Context, images []*Image, log zerolog.Logger, task detectFunc) {
	var g errgroup.Group
	if h.opts.Workers > 0 {
		g.SetLimit(h.opts.Workers)
	}

	for _, im := range images {
		g.Go(func() error {
			h.runTask(ctx, im, log, task)
			return nil
		})
	}

	g.Wait()
}

// runTask fills one image slot from task.
func (h *Harness) runTask(ctx context.Context, im *Image, log zerolog.Logger, task detectFunc) {
	if err := ctx.Err(); err != nil {
		im.fail(err)
		return
	}

	markers, err := safeDetect(task, im.Pixels)
	if err != nil {
		im.fail(err)
		log.Warn().Err(err).Str("image", im.Name).Msg("detection failed")
		return
	}

	im.succeed(markers)
	log.Debug().Str("image", im.Name).Int("markers", len(markers)).Msg("image done")
}

func safeDetect(task detectFunc, px *image.Gray) (markers []marker.Marker, err error) {
	defer func() {
		if r := recover(); r != nil {
			markers = nil
			err = fmt.Errorf("%w: %v", ErrDetectorPanic, r)
		}
	}()
	if px == nil {
		return nil, detection.ErrNilImage
	}
	return task(px)
}
