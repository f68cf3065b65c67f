package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironsheep/marker-tools-mcp/internal/detection/detectiontest"
	"github.com/ironsheep/marker-tools-mcp/internal/harness"
	"github.com/ironsheep/marker-tools-mcp/internal/imaging"
	"github.com/ironsheep/marker-tools-mcp/internal/marker"
	"github.com/ironsheep/marker-tools-mcp/internal/pyramid"
)

// writeMarkerImage writes a PNG whose first row encodes ids for the
// detectiontest backend and returns its path.
func writeMarkerImage(t *testing.T, dir, name string, width, height int, ids ...int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	defer f.Close()

	if err := png.Encode(f, detectiontest.NewImage(width, height, ids...)); err != nil {
		t.Fatalf("failed to encode %s: %v", name, err)
	}
	return path
}

// callTool runs a tool with args marshalled to JSON.
func callTool(t *testing.T, s *Server, name string, args map[string]interface{}) (interface{}, error) {
	t.Helper()
	argsJSON, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("failed to marshal args: %v", err)
	}
	return s.executeTool(context.Background(), name, argsJSON)
}

// loadedServer returns a server whose batch holds a.png (markers 1 and 2)
// and b.png (marker 3).
func loadedServer(t *testing.T, b *detectiontest.Backend) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	writeMarkerImage(t, dir, "a.png", 100, 60, 1, 2)
	writeMarkerImage(t, dir, "b.png", 80, 60, 3)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(nil, b)
	if _, err := callTool(t, s, "markers_load_batch", map[string]interface{}{"dir": dir}); err != nil {
		t.Fatalf("markers_load_batch failed: %v", err)
	}
	return s, dir
}

func TestHandleToolsCall_LoadBatch(t *testing.T) {
	dir := t.TempDir()
	writeMarkerImage(t, dir, "a.png", 100, 60, 1, 2)
	writeMarkerImage(t, dir, "b.png", 80, 60, 3)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(nil, &detectiontest.Backend{})
	params, _ := json.Marshal(map[string]interface{}{
		"name":      "markers_load_batch",
		"arguments": map[string]interface{}{"dir": dir},
	})
	resp := s.handleToolsCall(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 1, Params: params})
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	content := resp.Result.(map[string]interface{})["content"].([]map[string]interface{})
	var info batchInfoResult
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), &info); err != nil {
		t.Fatalf("result is not batch info: %v", err)
	}
	if len(info.Images) != 2 {
		t.Fatalf("images: got %d, want 2", len(info.Images))
	}
	if info.Images[0].Name != "a.png" || info.Images[0].Width != 100 {
		t.Errorf("first image: got %+v", info.Images[0])
	}
	if len(info.Skipped) != 1 {
		t.Errorf("skipped: got %v, want notes.txt", info.Skipped)
	}
	if info.Dir != dir {
		t.Errorf("dir: got %s, want %s", info.Dir, dir)
	}
}

func TestHandleToolsCall_MaxFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.png", "2.png", "3.png"} {
		writeMarkerImage(t, dir, name, 40, 40, 0)
	}

	s := New(nil, &detectiontest.Backend{})
	result, err := callTool(t, s, "markers_load_batch", map[string]interface{}{"dir": dir, "max_files": 2})
	if err != nil {
		t.Fatalf("markers_load_batch failed: %v", err)
	}
	if n := len(result.(*batchInfoResult).Images); n != 2 {
		t.Errorf("images: got %d, want 2", n)
	}

	if _, err := callTool(t, s, "markers_load_batch", map[string]interface{}{"dir": dir, "max_files": -1}); err == nil {
		t.Error("negative max_files should fail")
	}
}

func TestHandleToolsCall_ToolErrors(t *testing.T) {
	s := newTestServer()

	tests := []struct {
		name string
		tool string
		args string
	}{
		{"unknown tool", "nonexistent_tool", `{}`},
		{"missing directory", "markers_load_batch", `{"dir":"/nonexistent/dir"}`},
		{"invalid arguments", "markers_run_strategy", `{"strategy":42}`},
		{"empty batch", "markers_run_strategy", `{"strategy":"serial"}`},
		{"no image given", "markers_detect_image", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, _ := json.Marshal(map[string]interface{}{
				"name":      tt.tool,
				"arguments": json.RawMessage(tt.args),
			})
			resp := s.handleToolsCall(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 7, Params: params})
			if resp.Error == nil {
				t.Fatal("expected an error response")
			}
			if resp.Error.Code != -32000 {
				t.Errorf("Error code: got %d, want -32000", resp.Error.Code)
			}
		})
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := newTestServer()
	resp := s.handleToolsCall(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Params:  json.RawMessage(`{invalid`),
	})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("got %+v, want code -32602", resp.Error)
	}
}

func TestRunStrategy(t *testing.T) {
	s, _ := loadedServer(t, &detectiontest.Backend{})

	for _, strategy := range harness.Strategies() {
		t.Run(string(strategy), func(t *testing.T) {
			args := map[string]interface{}{"strategy": string(strategy)}
			if strategy == harness.Pyramid {
				// Resampled levels scramble the encoded IDs; stay at level 0.
				if _, err := callTool(t, s, "markers_set_config", map[string]interface{}{
					"config": map[string]interface{}{"pyramid": map[string]interface{}{"min": 0, "max": 0}},
				}); err != nil {
					t.Fatalf("markers_set_config failed: %v", err)
				}
			}

			result, err := callTool(t, s, "markers_run_strategy", args)
			if err != nil {
				t.Fatalf("markers_run_strategy failed: %v", err)
			}
			report := result.(*harness.Report)
			if report.TotalMarkers != 3 {
				t.Errorf("total markers: got %d, want 3", report.TotalMarkers)
			}
			if report.Failures != 0 {
				t.Errorf("failures: got %d, want 0", report.Failures)
			}
			if report.Backend != "test" {
				t.Errorf("backend: got %s, want test", report.Backend)
			}
		})
	}

	info, _ := callTool(t, s, "markers_batch_info", nil)
	bi := info.(*batchInfoResult)
	if bi.TotalMarkers != 3 {
		t.Errorf("batch total: got %d, want 3", bi.TotalMarkers)
	}
	if len(bi.LastRuns) != len(harness.Strategies()) {
		t.Errorf("last runs: got %v", bi.LastRuns)
	}
	for _, im := range bi.Images {
		if !im.Done {
			t.Errorf("%s not done after run", im.Name)
		}
	}
}

func TestRunStrategy_Overrides(t *testing.T) {
	b := &detectiontest.Backend{}
	s, _ := loadedServer(t, b)

	result, err := callTool(t, s, "markers_run_strategy", map[string]interface{}{
		"strategy":   "cloned",
		"iterations": 3,
		"workers":    1,
	})
	if err != nil {
		t.Fatalf("markers_run_strategy failed: %v", err)
	}
	if n := len(result.(*harness.Report).Iterations); n != 3 {
		t.Errorf("iterations: got %d, want 3", n)
	}
	if b.PeakConcurrency() != 1 {
		t.Errorf("peak concurrency: got %d, want 1", b.PeakConcurrency())
	}
	if s.config().Iterations != 1 {
		t.Error("per-call override changed the stored config")
	}

	if _, err := callTool(t, s, "markers_run_strategy", map[string]interface{}{"strategy": "bogus"}); err == nil {
		t.Error("unknown strategy should fail")
	}
}

func TestRunStrategy_PerImageFailureIsReported(t *testing.T) {
	b := &detectiontest.Backend{
		Full: func(img *image.Gray) ([]marker.Marker, error) {
			if img.Bounds().Dx() == 80 {
				return nil, detectiontest.ErrInjected
			}
			return detectiontest.ReadIDs(img)
		},
	}
	s, _ := loadedServer(t, b)

	result, err := callTool(t, s, "markers_run_strategy", map[string]interface{}{"strategy": "shared"})
	if err != nil {
		t.Fatalf("a per-image failure must not fail the tool: %v", err)
	}
	report := result.(*harness.Report)
	if report.TotalMarkers != 2 || report.Failures != 1 {
		t.Errorf("got total %d, failures %d; want 2, 1", report.TotalMarkers, report.Failures)
	}

	info, _ := callTool(t, s, "markers_batch_info", nil)
	for _, im := range info.(*batchInfoResult).Images {
		if im.Name == "b.png" && !strings.Contains(im.Error, "injected") {
			t.Errorf("b.png error: got %q", im.Error)
		}
	}
}

func TestCompareStrategies(t *testing.T) {
	s, _ := loadedServer(t, &detectiontest.Backend{})

	result, err := callTool(t, s, "markers_compare_strategies", map[string]interface{}{
		"strategies": []string{"serial", "shared", "cloned"},
	})
	if err != nil {
		t.Fatalf("markers_compare_strategies failed: %v", err)
	}
	cmp := result.(*compareResult)
	if len(cmp.Summary) != 3 || len(cmp.Reports) != 3 {
		t.Fatalf("got %d rows, %d reports; want 3 each", len(cmp.Summary), len(cmp.Reports))
	}
	if !cmp.Consistent {
		t.Errorf("strategies disagree: %+v", cmp.Summary)
	}
	if cmp.Summary[0].Concurrent || !cmp.Summary[1].Concurrent {
		t.Errorf("concurrent flags: got %+v", cmp.Summary)
	}
}

func TestCompareStrategies_Inconsistent(t *testing.T) {
	var calls int
	b := &detectiontest.Backend{
		// The serial run sees every marker; later runs lose one.
		BeforeNewFull: func(call int) error {
			calls = call
			return nil
		},
		Full: func(img *image.Gray) ([]marker.Marker, error) {
			found, err := detectiontest.ReadIDs(img)
			if calls > 1 && len(found) > 1 {
				found = found[:1]
			}
			return found, err
		},
	}
	s, _ := loadedServer(t, b)

	result, err := callTool(t, s, "markers_compare_strategies", map[string]interface{}{
		"strategies": []string{"serial", "shared"},
	})
	if err != nil {
		t.Fatalf("markers_compare_strategies failed: %v", err)
	}
	if result.(*compareResult).Consistent {
		t.Error("differing totals reported as consistent")
	}
}

func TestDetectImage(t *testing.T) {
	dir := t.TempDir()
	path := writeMarkerImage(t, dir, "single.png", 100, 60, 4, 9)
	s := newTestServer()

	tests := []struct {
		mode       string
		wantLevels int
	}{
		{"full", 0},
		{"fast", 0},
		{"pyramid", 1},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			result, err := callTool(t, s, "markers_detect_image", map[string]interface{}{
				"path":      path,
				"mode":      tt.mode,
				"min_level": 0,
				"max_level": 0,
			})
			if err != nil {
				t.Fatalf("markers_detect_image failed: %v", err)
			}
			r := result.(*detectImageResult)
			if r.Count != 2 || r.Markers[0].ID != 4 || r.Markers[1].ID != 9 {
				t.Errorf("markers: got %+v", r.Markers)
			}
			if len(r.Levels) != tt.wantLevels {
				t.Errorf("levels: got %d, want %d", len(r.Levels), tt.wantLevels)
			}
			if r.Width != 100 || r.Height != 60 {
				t.Errorf("size: got %dx%d", r.Width, r.Height)
			}
			if r.File == nil || r.File.Format != "png" || r.File.FileSizeBytes <= 0 {
				t.Errorf("file info: got %+v", r.File)
			}
		})
	}

	if _, err := callTool(t, s, "markers_detect_image", map[string]interface{}{"path": path, "mode": "turbo"}); err == nil {
		t.Error("unknown mode should fail")
	}
	if _, err := callTool(t, s, "markers_detect_image", map[string]interface{}{"path": path, "mode": "pyramid", "min_level": 1}); err == nil {
		t.Error("invalid pyramid range should fail")
	}
	if _, err := callTool(t, s, "markers_detect_image", map[string]interface{}{"path": path, "mode": "pyramid", "min_level": -2000, "max_level": 24}); !errors.Is(err, pyramid.ErrInvalidRange) {
		t.Errorf("range past the span: got %v, want ErrInvalidRange", err)
	}
}

func TestDetectImage_ByName(t *testing.T) {
	s, _ := loadedServer(t, &detectiontest.Backend{})

	result, err := callTool(t, s, "markers_detect_image", map[string]interface{}{"name": "b.png"})
	if err != nil {
		t.Fatalf("markers_detect_image failed: %v", err)
	}
	if r := result.(*detectImageResult); r.Count != 1 || r.Image != "b.png" {
		t.Errorf("got %+v", r)
	}

	if _, err := callTool(t, s, "markers_detect_image", map[string]interface{}{"name": "missing.png"}); err == nil {
		t.Error("unknown batch name should fail")
	}
}

func TestDetectImage_NoBackend(t *testing.T) {
	dir := t.TempDir()
	path := writeMarkerImage(t, dir, "x.png", 40, 40, 1)
	s := New(nil, nil)

	_, err := callTool(t, s, "markers_detect_image", map[string]interface{}{"path": path})
	if !errors.Is(err, errNoBackend) {
		t.Errorf("got %v, want errNoBackend", err)
	}
}

func TestLoadBatch_RefreshesCache(t *testing.T) {
	dir := t.TempDir()
	path := writeMarkerImage(t, dir, "a.png", 100, 60, 1, 2)
	s := New(nil, &detectiontest.Backend{})

	detectIDs := func() ([]marker.Marker, error) {
		result, err := callTool(t, s, "markers_detect_image", map[string]interface{}{"path": path})
		if err != nil {
			return nil, err
		}
		return result.(*detectImageResult).Markers, nil
	}

	if got, err := detectIDs(); err != nil || len(got) != 2 {
		t.Fatalf("first detection: got %v, %v", got, err)
	}

	// The batch load replaces the cached copy of a rewritten file.
	writeMarkerImage(t, dir, "a.png", 100, 60, 7)
	result, err := callTool(t, s, "markers_load_batch", map[string]interface{}{"dir": dir})
	if err != nil {
		t.Fatalf("markers_load_batch failed: %v", err)
	}
	if n := result.(*batchInfoResult).CachedImages; n != 1 {
		t.Errorf("cached images: got %d, want 1", n)
	}
	if got, err := detectIDs(); err != nil || len(got) != 1 || got[0].ID != 7 {
		t.Errorf("after reload: got %v, %v", got, err)
	}

	// A file that stops decoding is dropped from the cache.
	if err := os.WriteFile(path, []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err = callTool(t, s, "markers_load_batch", map[string]interface{}{"dir": dir})
	if err != nil {
		t.Fatalf("markers_load_batch failed: %v", err)
	}
	if info := result.(*batchInfoResult); len(info.Skipped) != 1 || info.CachedImages != 0 {
		t.Errorf("got %d skipped, %d cached; want 1, 0", len(info.Skipped), info.CachedImages)
	}
	if _, err := detectIDs(); err == nil {
		t.Error("detection served a stale cached image")
	}
}

func TestOverlay(t *testing.T) {
	s, dir := loadedServer(t, &detectiontest.Backend{})

	result, err := callTool(t, s, "markers_overlay", map[string]interface{}{"name": "a.png"})
	if err != nil {
		t.Fatalf("markers_overlay failed: %v", err)
	}
	ov := result.(*imaging.OverlayResult)
	if ov.MarkerCount != 2 || ov.Width != 100 || ov.ImageBase64 == "" {
		t.Errorf("got count %d, width %d", ov.MarkerCount, ov.Width)
	}

	out := filepath.Join(dir, "out", "a-overlay.png")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		t.Fatal(err)
	}
	result, err = callTool(t, s, "markers_overlay", map[string]interface{}{
		"name":        "b.png",
		"output_path": out,
		"color":       "#00FF00",
	})
	if err != nil {
		t.Fatalf("markers_overlay to file failed: %v", err)
	}
	if r := result.(*overlayFileResult); r.MarkerCount != 1 || r.Path != out {
		t.Errorf("got %+v", r)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("overlay file not written: %v", err)
	}

	if _, err := callTool(t, s, "markers_overlay", map[string]interface{}{"name": "a.png", "color": "green"}); err == nil {
		t.Error("invalid color should fail")
	}
}

func TestOverlay_UsesLastRun(t *testing.T) {
	b := &detectiontest.Backend{}
	s, _ := loadedServer(t, b)

	if _, err := callTool(t, s, "markers_run_strategy", map[string]interface{}{"strategy": "serial"}); err != nil {
		t.Fatalf("markers_run_strategy failed: %v", err)
	}
	before := b.Detections()

	if _, err := callTool(t, s, "markers_overlay", map[string]interface{}{"name": "a.png"}); err != nil {
		t.Fatalf("markers_overlay failed: %v", err)
	}
	if b.Detections() != before {
		t.Error("overlay detected again instead of reusing the run's markers")
	}
}

func TestCropMarker(t *testing.T) {
	s, _ := loadedServer(t, &detectiontest.Backend{})

	// Marker 2 is a 10px square at (20, 20).
	result, err := callTool(t, s, "markers_crop_marker", map[string]interface{}{
		"name":      "a.png",
		"marker_id": 2,
		"padding":   5,
	})
	if err != nil {
		t.Fatalf("markers_crop_marker failed: %v", err)
	}
	crop := result.(*imaging.MarkerCrop)
	if crop.MarkerID != 2 || crop.Center != (marker.Point{X: 25, Y: 25}) || crop.PerimeterPx != 40 {
		t.Errorf("geometry: got id %d, center %v, perimeter %g", crop.MarkerID, crop.Center, crop.PerimeterPx)
	}
	if crop.X != 15 || crop.Y != 15 {
		t.Errorf("origin: got (%d,%d), want (15,15)", crop.X, crop.Y)
	}
	if crop.Width != 21 || crop.Height != 21 {
		t.Errorf("size: got %dx%d, want 21x21", crop.Width, crop.Height)
	}

	if _, err := callTool(t, s, "markers_crop_marker", map[string]interface{}{"name": "a.png", "marker_id": 40}); err == nil {
		t.Error("missing marker should fail")
	}
	if _, err := callTool(t, s, "markers_crop_marker", map[string]interface{}{"name": "a.png"}); err == nil {
		t.Error("marker_id should be required")
	}
}

func TestGetConfig(t *testing.T) {
	s := newTestServer()

	result, err := callTool(t, s, "markers_get_config", nil)
	if err != nil {
		t.Fatalf("markers_get_config failed: %v", err)
	}
	cfg := result.(*configResult)
	if cfg.Backend != "test" {
		t.Errorf("backend: got %s, want test", cfg.Backend)
	}
	if cfg.Config.ApplyParams {
		t.Error("apply_params should default to false")
	}
	// Without apply_params the backend defaults are in effect.
	if cfg.Detector.ErrorCorrectionRate != 0.6 {
		t.Errorf("effective error correction: got %g, want 0.6", cfg.Detector.ErrorCorrectionRate)
	}
	if cfg.Host.LogicalCPUs < 1 && cfg.Host.GoMaxProcs < 1 {
		t.Error("host info missing")
	}
}

func TestSetConfig(t *testing.T) {
	s := newTestServer()

	result, err := callTool(t, s, "markers_set_config", map[string]interface{}{
		"config": map[string]interface{}{
			"apply_params": true,
			"workers":      2,
			"detector":     map[string]interface{}{"threshold": 9},
		},
	})
	if err != nil {
		t.Fatalf("markers_set_config failed: %v", err)
	}

	cfg := result.(*configResult)
	if !cfg.Config.ApplyParams || cfg.Config.Workers != 2 {
		t.Errorf("fields not applied: %+v", cfg.Config)
	}
	if cfg.Config.Detector.Threshold != 9 {
		t.Errorf("threshold: got %d, want 9", cfg.Config.Detector.Threshold)
	}
	if cfg.Config.Detector.ThresholdWindowSize != 15 {
		t.Errorf("untouched detector field changed: window %d", cfg.Config.Detector.ThresholdWindowSize)
	}
	if cfg.Detector != cfg.Config.Detector {
		t.Error("with apply_params the configured tuning should be in effect")
	}
}

func TestSetConfig_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"invalid value", `{"iterations":0}`},
		{"unknown key", `{"iterashuns":2}`},
		{"unknown nested key", `{"detector":{"sharpness":2}}`},
		{"bad pyramid", `{"pyramid":{"min":1,"max":2}}`},
		{"backend change", `{"backend":"other"}`},
		{"not an object", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			before := s.config()

			args := json.RawMessage(`{"config":` + tt.config + `}`)
			if _, err := s.executeTool(context.Background(), "markers_set_config", args); err == nil {
				t.Fatal("expected an error")
			}
			if s.config() != before {
				t.Error("rejected update changed the config")
			}
		})
	}
}

func TestExecuteTool_InvalidJSON(t *testing.T) {
	s := newTestServer()

	_, err := s.executeTool(context.Background(), "markers_load_batch", json.RawMessage(`{invalid`))
	if err == nil {
		t.Error("executeTool should fail for invalid JSON")
	}
}
