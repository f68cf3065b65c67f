package harness

import (
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// IterationStat is the outcome of one pass over the batch.
type IterationStat struct {
	Index      int           `json:"index"`
	Duration   time.Duration `json:"-"`
	DurationMS float64       `json:"duration_ms"`
	Markers    int           `json:"markers"`
	Failures   int           `json:"failures"`
}

// ImageResult is one image's state at the end of a run.
type ImageResult struct {
	Name    string `json:"name"`
	Markers int    `json:"markers"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

// Report describes a strategy run.
type Report struct {
	RunID    string   `json:"run_id"`
	Strategy Strategy `json:"strategy"`
	Backend  string   `json:"backend"`

	// Concurrent is true when the strategy dispatched images in parallel.
	Concurrent bool `json:"concurrent"`

	StartedAt time.Time `json:"started_at"`
	Images    int       `json:"images"`

	// TotalMarkers is the marker count summed over every image after the
	// last iteration.
	TotalMarkers int `json:"total_markers"`

	// Failures counts images whose last iteration ended in an error.
	Failures int `json:"failures"`

	Iterations []IterationStat `json:"iterations"`
	PerImage   []ImageResult   `json:"per_image"`

	MeanMS   float64 `json:"mean_ms"`
	StdDevMS float64 `json:"stddev_ms"`

	Host HostInfo `json:"host"`
}

func newReport(strategy Strategy, backend string, images []*Image) *Report {
	return &Report{
		RunID:      uuid.NewString(),
		Strategy:   strategy,
		Backend:    backend,
		Concurrent: strategy.Concurrent(),
		StartedAt:  time.Now(),
		Images:     len(images),
		Host:       Host(),
	}
}

func (r *Report) addIteration(d time.Duration, images []*Image) IterationStat {
	s := IterationStat{
		Index:      len(r.Iterations) + 1,
		Duration:   d,
		DurationMS: millis(d),
		Markers:    TotalMarkers(images),
		Failures:   countFailures(images),
	}
	r.Iterations = append(r.Iterations, s)
	return s
}

// finish records the final per-image state and the timing summary.
func (r *Report) finish(images []*Image) {
	r.TotalMarkers = TotalMarkers(images)
	r.Failures = countFailures(images)

	r.PerImage = make([]ImageResult, len(images))
	for i, im := range images {
		res := ImageResult{Name: im.Name, Markers: len(im.Markers), Done: im.Done()}
		if im.Err != nil {
			res.Error = im.Err.Error()
		}
		r.PerImage[i] = res
	}

	r.MeanMS, r.StdDevMS = durationStats(r.Iterations)
}

// durationStats returns the mean and sample standard deviation of the
// iteration durations in milliseconds. Fewer than two samples have no
// spread.
func durationStats(iters []IterationStat) (mean, stddev float64) {
	if len(iters) == 0 {
		return 0, 0
	}
	xs := make([]float64, len(iters))
	for i, it := range iters {
		xs[i] = it.DurationMS
	}
	if len(xs) == 1 {
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}

func countFailures(images []*Image) int {
	n := 0
	for _, im := range images {
		if im.Err != nil {
			n++
		}
	}
	return n
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
