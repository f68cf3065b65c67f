package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/ironsheep/marker-tools-mcp/internal/config"
	"github.com/ironsheep/marker-tools-mcp/internal/detection"
	"github.com/ironsheep/marker-tools-mcp/internal/harness"
	"github.com/ironsheep/marker-tools-mcp/internal/imaging"
	"github.com/ironsheep/marker-tools-mcp/internal/logger"
	"github.com/ironsheep/marker-tools-mcp/internal/marker"
	"github.com/ironsheep/marker-tools-mcp/internal/pyramid"
)

// defaultCropPadding is the margin markers_crop_marker leaves around a marker.
const defaultCropPadding = 8

var (
	errNoBackend   = errors.New("no detection backend is available in this build")
	errEmptyBatch  = errors.New("the batch is empty; call markers_load_batch first")
	errNoImageArgs = errors.New("either name or path is required")
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "markers_load_batch").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Warn().Err(err).Str("tool", params.Name).Msg("tool failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch name {
	// Batch Management
	case "markers_load_batch":
		return s.handleLoadBatch(args)
	case "markers_batch_info":
		return s.handleBatchInfo(args)

	// Detection
	case "markers_detect_image":
		return s.handleDetectImage(args)
	case "markers_run_strategy":
		return s.handleRunStrategy(ctx, args)
	case "markers_compare_strategies":
		return s.handleCompareStrategies(ctx, args)

	// Inspection
	case "markers_overlay":
		return s.handleOverlay(args)
	case "markers_crop_marker":
		return s.handleCropMarker(args)

	// Configuration
	case "markers_get_config":
		return s.handleGetConfig(args)
	case "markers_set_config":
		return s.handleSetConfig(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// config returns a copy of the current configuration.
func (s *Server) config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// harnessFor builds a harness from cfg.
func (s *Server) harnessFor(cfg config.Config) (*harness.Harness, error) {
	if s.backend == nil {
		return nil, errNoBackend
	}
	resampler, err := imaging.NewResampler(cfg.Resampler)
	if err != nil {
		return nil, err
	}
	log := s.log
	return harness.New(s.backend, harness.Options{
		Iterations:  cfg.Iterations,
		ApplyParams: cfg.ApplyParams,
		Detector:    cfg.Detector,
		PyramidMin:  cfg.Pyramid.Min,
		PyramidMax:  cfg.Pyramid.Max,
		Workers:     cfg.Workers,
		Resampler:   resampler,
		Logger:      &log,
	})
}

// === Batch Management Handlers ===

type loadBatchArgs struct {
	Dir      string   `json:"dir"`
	MaxFiles *int     `json:"max_files"`
	DPI      *float64 `json:"dpi"`
}

type batchImage struct {
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Markers int    `json:"markers"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

type batchInfoResult struct {
	Dir          string                   `json:"dir"`
	Images       []batchImage             `json:"images"`
	Skipped      []imaging.Skipped        `json:"skipped,omitempty"`
	TotalMarkers int                      `json:"total_markers"`
	LastRuns     map[harness.Strategy]int `json:"last_runs,omitempty"`
	CachedImages int                      `json:"cached_images"`
}

func (s *Server) handleLoadBatch(args json.RawMessage) (interface{}, error) {
	var a loadBatchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	cfg := s.config()
	dir, maxFiles, dpi := cfg.ImageDir, cfg.MaxFiles, cfg.PDFDPI
	if a.Dir != "" {
		dir = a.Dir
	}
	if a.MaxFiles != nil {
		maxFiles = *a.MaxFiles
	}
	if a.DPI != nil {
		dpi = *a.DPI
	}
	if maxFiles < 0 {
		return nil, fmt.Errorf("max_files must not be negative, got %d", maxFiles)
	}
	if dpi <= 0 {
		return nil, fmt.Errorf("dpi must be positive, got %g", dpi)
	}

	result, err := imaging.LoadDir(dir, maxFiles, dpi)
	if err != nil {
		return nil, err
	}

	batch := make([]*harness.Image, 0, len(result.Frames))
	for _, f := range result.Frames {
		batch = append(batch, harness.NewImage(f.Name, f.Pixels))
		if f.Page == 0 {
			s.cache.Put(f.Path, f.Pixels)
		}
	}
	// A file that no longer decodes must not be served from an older load.
	for _, sk := range result.Skipped {
		s.cache.Evict(sk.Path)
	}

	s.mu.Lock()
	s.cfg.ImageDir = dir
	s.batch = batch
	s.skipped = result.Skipped
	s.reports = make(map[harness.Strategy]*harness.Report)
	s.mu.Unlock()

	s.log.Info().
		Str("dir", dir).
		Int("images", len(batch)).
		Int("skipped", len(result.Skipped)).
		Msg("batch loaded")

	return s.batchInfo(), nil
}

func (s *Server) handleBatchInfo(args json.RawMessage) (interface{}, error) {
	return s.batchInfo(), nil
}

func (s *Server) batchInfo() *batchInfoResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := &batchInfoResult{
		Dir:          s.cfg.ImageDir,
		Images:       make([]batchImage, 0, len(s.batch)),
		Skipped:      s.skipped,
		TotalMarkers: harness.TotalMarkers(s.batch),
		CachedImages: s.cache.Len(),
	}
	for _, im := range s.batch {
		b := batchImage{
			Name:    im.Name,
			Width:   im.Pixels.Bounds().Dx(),
			Height:  im.Pixels.Bounds().Dy(),
			Markers: len(im.Markers),
			Done:    im.Done(),
		}
		if im.Err != nil {
			b.Error = im.Err.Error()
		}
		info.Images = append(info.Images, b)
	}
	if len(s.reports) > 0 {
		info.LastRuns = make(map[harness.Strategy]int, len(s.reports))
		for strategy, r := range s.reports {
			info.LastRuns[strategy] = r.TotalMarkers
		}
	}
	return info
}

// === Detection Handlers ===

type imageArgs struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// resolve finds the image named by a. The second result is the batch slot
// when the image came from the batch.
func (s *Server) resolve(a imageArgs) (*image.Gray, *harness.Image, error) {
	if a.Name != "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, im := range s.batch {
			if im.Name == a.Name {
				return im.Pixels, im, nil
			}
		}
		return nil, nil, fmt.Errorf("no image named %q in the batch", a.Name)
	}
	if a.Path == "" {
		return nil, nil, errNoImageArgs
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, nil, err
	}
	return img, nil, nil
}

type detectImageArgs struct {
	imageArgs
	Mode     string `json:"mode"`
	MinLevel *int   `json:"min_level"`
	MaxLevel *int   `json:"max_level"`
}

type detectImageResult struct {
	Image   string              `json:"image"`
	Mode    string              `json:"mode"`
	Width   int                 `json:"width"`
	Height  int                 `json:"height"`
	Count   int                 `json:"count"`
	Markers []marker.Marker     `json:"markers"`
	Levels  []pyramid.LevelStat `json:"levels,omitempty"`
	File    *imaging.ImageInfo  `json:"file,omitempty"`
}

func (s *Server) handleDetectImage(args json.RawMessage) (interface{}, error) {
	var a detectImageArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Mode == "" {
		a.Mode = "full"
	}

	var file *imaging.ImageInfo
	if a.Name == "" && a.Path != "" {
		info, err := imaging.LoadImageInfo(s.cache, a.Path)
		if err != nil {
			return nil, err
		}
		file = info
	}

	img, _, err := s.resolve(a.imageArgs)
	if err != nil {
		return nil, err
	}

	cfg := s.config()
	if a.MinLevel != nil {
		cfg.Pyramid.Min = *a.MinLevel
	}
	if a.MaxLevel != nil {
		cfg.Pyramid.Max = *a.MaxLevel
	}

	markers, levels, err := s.detect(img, a.Mode, cfg)
	if err != nil {
		return nil, err
	}

	name := a.Name
	if name == "" {
		name = a.Path
	}
	return &detectImageResult{
		Image:   name,
		Mode:    a.Mode,
		Width:   img.Bounds().Dx(),
		Height:  img.Bounds().Dy(),
		Count:   len(markers),
		Markers: markers,
		Levels:  levels,
		File:    file,
	}, nil
}

// detect runs one detection on img with a detector built for mode.
func (s *Server) detect(img *image.Gray, mode string, cfg config.Config) ([]marker.Marker, []pyramid.LevelStat, error) {
	if s.backend == nil {
		return nil, nil, errNoBackend
	}

	switch mode {
	case "full":
		d, err := s.backend.NewFull()
		if err != nil {
			return nil, nil, err
		}
		defer d.Close()
		if cfg.ApplyParams {
			if err := d.Configure(cfg.Detector); err != nil {
				return nil, nil, fmt.Errorf("failed to configure detector: %w", err)
			}
		}
		markers, err := d.Detect(img)
		return markers, nil, err

	case "fast":
		d, err := s.backend.NewFast()
		if err != nil {
			return nil, nil, err
		}
		defer d.Close()
		markers, err := d.Detect(img)
		return markers, nil, err

	case "pyramid":
		resampler, err := imaging.NewResampler(cfg.Resampler)
		if err != nil {
			return nil, nil, err
		}
		d, err := s.backend.NewFast()
		if err != nil {
			return nil, nil, err
		}
		defer d.Close()
		p := pyramid.New(d, pyramid.WithResampler(resampler), pyramid.WithLogger(s.log))
		return p.DetectTrace(img, cfg.Pyramid.Min, cfg.Pyramid.Max)
	}

	return nil, nil, fmt.Errorf("unknown mode: %s (want full, fast or pyramid)", mode)
}

type runStrategyArgs struct {
	Strategy   string `json:"strategy"`
	Iterations *int   `json:"iterations"`
	Workers    *int   `json:"workers"`
}

func (s *Server) handleRunStrategy(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a runStrategyArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	strategy, err := harness.ParseStrategy(a.Strategy)
	if err != nil {
		return nil, err
	}

	cfg := s.config()
	if a.Iterations != nil {
		cfg.Iterations = *a.Iterations
	}
	if a.Workers != nil {
		cfg.Workers = *a.Workers
	}
	h, err := s.harnessFor(cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batch) == 0 {
		return nil, errEmptyBatch
	}

	report, err := h.Run(ctx, strategy, s.batch)
	if report != nil {
		s.reports[strategy] = report
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

type compareStrategiesArgs struct {
	Strategies []string `json:"strategies"`
}

type compareRow struct {
	Strategy     harness.Strategy `json:"strategy"`
	Concurrent   bool             `json:"concurrent"`
	TotalMarkers int              `json:"total_markers"`
	Failures     int              `json:"failures"`
	MeanMS       float64          `json:"mean_ms"`
	StdDevMS     float64          `json:"stddev_ms"`
}

type compareResult struct {
	Summary []compareRow      `json:"summary"`
	Reports []*harness.Report `json:"reports"`

	// Consistent is true when every full-detector strategy found the same
	// total. Fast and pyramid strategies use a different detector and are
	// not compared.
	Consistent bool `json:"consistent"`
}

func (s *Server) handleCompareStrategies(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a compareStrategiesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	strategies := harness.Strategies()
	if len(a.Strategies) > 0 {
		strategies = make([]harness.Strategy, 0, len(a.Strategies))
		for _, name := range a.Strategies {
			st, err := harness.ParseStrategy(name)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, st)
		}
	}

	h, err := s.harnessFor(s.config())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batch) == 0 {
		return nil, errEmptyBatch
	}

	reports, err := h.Compare(ctx, strategies, s.batch)
	for _, r := range reports {
		s.reports[r.Strategy] = r
	}
	if err != nil {
		return nil, err
	}

	result := &compareResult{Reports: reports, Consistent: true}
	full := -1
	for _, r := range reports {
		result.Summary = append(result.Summary, compareRow{
			Strategy:     r.Strategy,
			Concurrent:   r.Strategy.Concurrent(),
			TotalMarkers: r.TotalMarkers,
			Failures:     r.Failures,
			MeanMS:       r.MeanMS,
			StdDevMS:     r.StdDevMS,
		})
		if !usesFullDetector(r.Strategy) {
			continue
		}
		if full >= 0 && r.TotalMarkers != full {
			result.Consistent = false
		}
		full = r.TotalMarkers
	}
	return result, nil
}

func usesFullDetector(s harness.Strategy) bool {
	switch s {
	case harness.Serial, harness.Shared, harness.Cloned:
		return true
	}
	return false
}

// === Inspection Handlers ===

type overlayArgs struct {
	imageArgs
	OutputPath string `json:"output_path"`
	Color      string `json:"color"`
	LineWidth  int    `json:"line_width"`
	HideLabels bool   `json:"hide_labels"`
}

type overlayFileResult struct {
	Path        string `json:"path"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	MarkerCount int    `json:"marker_count"`
}

// markersFor returns the markers to show for an image: the last run's
// result for a batch slot that has one, otherwise a fresh full detection.
func (s *Server) markersFor(a imageArgs) (*image.Gray, []marker.Marker, error) {
	img, slot, err := s.resolve(a)
	if err != nil {
		return nil, nil, err
	}
	if slot != nil {
		s.mu.Lock()
		done, markers := slot.Done(), slot.Markers
		s.mu.Unlock()
		if done {
			return img, markers, nil
		}
	}
	markers, _, err := s.detect(img, "full", s.config())
	if err != nil {
		return nil, nil, err
	}
	return img, markers, nil
}

func (s *Server) handleOverlay(args json.RawMessage) (interface{}, error) {
	var a overlayArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, markers, err := s.markersFor(a.imageArgs)
	if err != nil {
		return nil, err
	}

	opts := imaging.OverlayOptions{
		LineWidth:  a.LineWidth,
		Color:      a.Color,
		HideLabels: a.HideLabels,
	}
	if a.OutputPath == "" {
		return imaging.RenderOverlay(img, markers, opts)
	}
	if err := imaging.WriteOverlay(a.OutputPath, img, markers, opts); err != nil {
		return nil, err
	}
	return &overlayFileResult{
		Path:        a.OutputPath,
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		MarkerCount: len(markers),
	}, nil
}

type cropMarkerArgs struct {
	imageArgs
	MarkerID *int    `json:"marker_id"`
	Padding  *int    `json:"padding"`
	Scale    float64 `json:"scale"`
}

func (s *Server) handleCropMarker(args json.RawMessage) (interface{}, error) {
	var a cropMarkerArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.MarkerID == nil {
		return nil, errors.New("marker_id is required")
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	padding := defaultCropPadding
	if a.Padding != nil {
		padding = *a.Padding
	}

	img, markers, err := s.markersFor(a.imageArgs)
	if err != nil {
		return nil, err
	}
	for _, m := range markers {
		if m.ID == *a.MarkerID {
			return imaging.CropMarker(img, m, padding, a.Scale)
		}
	}
	return nil, fmt.Errorf("marker %d was not found in the image", *a.MarkerID)
}

// === Configuration Handlers ===

type configResult struct {
	Config   config.Config    `json:"config"`
	Detector detection.Config `json:"effective_detector"`
	Backend  string           `json:"backend_name"`
	Host     harness.HostInfo `json:"host"`
}

func (s *Server) handleGetConfig(args json.RawMessage) (interface{}, error) {
	cfg := s.config()
	result := &configResult{
		Config:   cfg,
		Detector: cfg.DetectorConfig(),
		Host:     harness.Host(),
	}
	if s.backend != nil {
		result.Backend = s.backend.Name()
	}
	return result, nil
}

type setConfigArgs struct {
	Config json.RawMessage `json:"config"`
}

func (s *Server) handleSetConfig(args json.RawMessage) (interface{}, error) {
	var a setConfigArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if len(a.Config) == 0 {
		return nil, errors.New("config is required")
	}

	s.mu.Lock()
	next := s.cfg
	s.mu.Unlock()

	dec := json.NewDecoder(bytes.NewReader(a.Config))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if s.backend != nil && next.Backend != s.config().Backend {
		return nil, errors.New("backend cannot be changed while the server runs")
	}

	level, err := logger.ParseLevel(next.LogLevel)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cfg = next
	s.log = s.log.Level(level)
	s.mu.Unlock()

	s.log.Info().
		Bool("apply_params", next.ApplyParams).
		Int("workers", next.Workers).
		Int("iterations", next.Iterations).
		Msg("config updated")

	return s.handleGetConfig(nil)
}
