package server

import (
	"github.com/ironsheep/marker-tools-mcp/internal/harness"
	"github.com/ironsheep/marker-tools-mcp/internal/pyramid"
)

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func strategyNames() []string {
	names := make([]string, 0, len(harness.Strategies()))
	for _, s := range harness.Strategies() {
		names = append(names, string(s))
	}
	return names
}

// imageSourceProperties are shared by tools that act on one image.
func imageSourceProperties() map[string]interface{} {
	return map[string]interface{}{
		"name": map[string]interface{}{
			"type":        "string",
			"description": "Name of an image in the loaded batch (e.g. \"board1.png\" or \"sheet.pdf#p2\")",
		},
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Absolute path to an image file outside the batch. Ignored when name is set.",
		},
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	detectProps := imageSourceProperties()
	detectProps["mode"] = map[string]interface{}{
		"type":        "string",
		"enum":        []string{"full", "fast", "pyramid"},
		"description": "full uses the tuned detector, fast the reduced one, pyramid searches several scales",
		"default":     "full",
	}
	detectProps["min_level"] = map[string]interface{}{
		"type":        "integer",
		"description": "Lowest pyramid level, at most 0 (default: configured pyramid.min)",
		"minimum":     -pyramid.MaxLevelSpan,
		"maximum":     0,
	}
	detectProps["max_level"] = map[string]interface{}{
		"type":        "integer",
		"description": "Highest pyramid level, at least 0 (default: configured pyramid.max)",
		"minimum":     0,
		"maximum":     pyramid.MaxLevelSpan,
	}

	overlayProps := imageSourceProperties()
	overlayProps["output_path"] = map[string]interface{}{
		"type":        "string",
		"description": "Write a PNG here instead of returning base64 data",
	}
	overlayProps["color"] = map[string]interface{}{
		"type":        "string",
		"description": "Outline colour in hex (#RRGGBB). Omit to colour each marker ID differently.",
	}
	overlayProps["line_width"] = map[string]interface{}{
		"type":        "integer",
		"description": "Outline thickness in pixels",
		"default":     3,
	}
	overlayProps["hide_labels"] = map[string]interface{}{
		"type":        "boolean",
		"description": "Do not print marker IDs",
		"default":     false,
	}

	cropProps := imageSourceProperties()
	cropProps["marker_id"] = map[string]interface{}{
		"type":        "integer",
		"description": "ID of the marker to cut out",
	}
	cropProps["padding"] = map[string]interface{}{
		"type":        "integer",
		"description": "Pixels added around the marker on every side",
		"default":     defaultCropPadding,
	}
	cropProps["scale"] = map[string]interface{}{
		"type":        "number",
		"description": "Scale factor for output. Use 2.0 to inspect small markers.",
		"default":     1.0,
	}

	return []Tool{
		// Batch Management
		{
			Name:        "markers_load_batch",
			Description: "Load every image in a directory into the working batch, replacing the previous batch. PDF files contribute one image per page. Files that cannot be decoded are listed as skipped.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"dir": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image directory (default: configured image_dir)",
					},
					"max_files": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of images to load, 0 for no limit (default: configured max_files)",
					},
					"dpi": map[string]interface{}{
						"type":        "number",
						"description": "Rasterization resolution for PDF pages (default: configured pdf_dpi)",
					},
				},
			},
		},
		{
			Name:        "markers_batch_info",
			Description: "List the images in the working batch with their size, the markers found by the last run and any per-image error.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},

		// Detection
		{
			Name:        "markers_detect_image",
			Description: "Detect fiducial markers in one image and return their IDs and corner coordinates. Pyramid mode also reports how many markers each level found.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": detectProps,
			},
		},
		{
			Name:        "markers_run_strategy",
			Description: "Run the working batch through one concurrency strategy and report the total marker count, per-image results and timing. Per-image failures are reported, not raised.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"strategy": map[string]interface{}{
						"type":        "string",
						"enum":        strategyNames(),
						"description": "How detectors are shared between concurrent tasks",
					},
					"iterations": map[string]interface{}{
						"type":        "integer",
						"description": "Repeat the batch this many times (default: configured iterations)",
					},
					"workers": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum concurrent tasks, 0 for one per image (default: configured workers)",
					},
				},
				"required": []string{"strategy"},
			},
		},
		{
			Name:        "markers_compare_strategies",
			Description: "Run the working batch through several strategies in turn and summarize their marker totals and timings side by side.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"strategies": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type": "string",
							"enum": strategyNames(),
						},
						"description": "Strategies to compare (default: all)",
					},
				},
			},
		},

		// Inspection
		{
			Name:        "markers_overlay",
			Description: "Draw the detected markers onto an image with their IDs and a marker count. Batch images use the markers from the last run; other images are detected first.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": overlayProps,
			},
		},
		{
			Name:        "markers_crop_marker",
			Description: "Crop the region around one detected marker and return it as base64-encoded PNG.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": cropProps,
				"required":   []string{"marker_id"},
			},
		},

		// Configuration
		{
			Name:        "markers_get_config",
			Description: "Return the current run configuration, the detector tuning in effect and the host the server runs on.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "markers_set_config",
			Description: "Update part of the run configuration. Only the given keys change; the result is validated before it replaces the current configuration. detector.max_threads is validated and reported but the aruco backend does not apply it.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"config": map[string]interface{}{
						"type":        "object",
						"description": "Keys as returned by markers_get_config, e.g. {\"apply_params\": true, \"detector\": {\"threshold\": 9}}",
					},
				},
				"required": []string{"config"},
			},
		},
	}
}
