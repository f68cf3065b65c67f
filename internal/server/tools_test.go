package server

import (
	"testing"
)

func TestGetToolDefinitions(t *testing.T) {
	tools := GetToolDefinitions()

	expectedTools := []string{
		"markers_load_batch",
		"markers_batch_info",
		"markers_detect_image",
		"markers_run_strategy",
		"markers_compare_strategies",
		"markers_overlay",
		"markers_crop_marker",
		"markers_get_config",
		"markers_set_config",
	}

	toolMap := make(map[string]Tool)
	for _, tool := range tools {
		if _, dup := toolMap[tool.Name]; dup {
			t.Errorf("tool %s defined twice", tool.Name)
		}
		toolMap[tool.Name] = tool
	}

	for _, name := range expectedTools {
		if _, ok := toolMap[name]; !ok {
			t.Errorf("Expected tool %s not found", name)
		}
	}
	if len(tools) != len(expectedTools) {
		t.Errorf("tool count: got %d, want %d", len(tools), len(expectedTools))
	}
}

func TestToolDefinitions_Structure(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			if tool.Description == "" {
				t.Error("Tool description is empty")
			}
			if tool.InputSchema["type"] != "object" {
				t.Errorf("InputSchema type: got %v, want 'object'", tool.InputSchema["type"])
			}
			props, ok := tool.InputSchema["properties"].(map[string]interface{})
			if !ok {
				t.Fatal("InputSchema properties should be a map")
			}

			// Every required parameter must be described.
			required, _ := tool.InputSchema["required"].([]string)
			for _, r := range required {
				if _, ok := props[r]; !ok {
					t.Errorf("required parameter %s has no schema", r)
				}
			}
		})
	}
}

func TestToolDefinitions_StrategyEnum(t *testing.T) {
	var run Tool
	for _, tool := range GetToolDefinitions() {
		if tool.Name == "markers_run_strategy" {
			run = tool
		}
	}

	props := run.InputSchema["properties"].(map[string]interface{})
	enum, ok := props["strategy"].(map[string]interface{})["enum"].([]string)
	if !ok {
		t.Fatal("strategy should have an enum")
	}

	want := map[string]bool{"serial": true, "shared": true, "fast-shared": true, "cloned": true, "pyramid": true}
	for _, e := range enum {
		delete(want, e)
	}
	for missing := range want {
		t.Errorf("strategy enum lacks %s", missing)
	}
}

func TestToolDefinitions_OptionalDefaults(t *testing.T) {
	toolDefaults := map[string]map[string]interface{}{
		"markers_detect_image": {"mode": "full"},
		"markers_overlay":      {"line_width": 3, "hide_labels": false},
		"markers_crop_marker":  {"padding": defaultCropPadding, "scale": 1.0},
	}

	toolMap := make(map[string]Tool)
	for _, tool := range GetToolDefinitions() {
		toolMap[tool.Name] = tool
	}

	for toolName, expectedDefaults := range toolDefaults {
		props := toolMap[toolName].InputSchema["properties"].(map[string]interface{})
		for paramName, expected := range expectedDefaults {
			param, ok := props[paramName].(map[string]interface{})
			if !ok {
				t.Errorf("%s.%s: parameter not found", toolName, paramName)
				continue
			}
			if param["default"] != expected {
				t.Errorf("%s.%s: default got %v, want %v", toolName, paramName, param["default"], expected)
			}
		}
	}
}
