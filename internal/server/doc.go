// Package server implements the MCP (Model Context Protocol) server for the
// marker detection tools.
//
// The server exposes a working batch of images and the detection harness
// through JSON-RPC 2.0, so an MCP client can load marker photographs, run
// them through the concurrency strategies and inspect what was found.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Batch Management:
//   - markers_load_batch: Load a directory (PDF pages included) as the batch
//   - markers_batch_info: Per-image sizes, marker counts and errors
//
// Detection:
//   - markers_detect_image: Detect in one image with the full, fast or pyramid detector
//   - markers_run_strategy: Run the batch through one strategy
//   - markers_compare_strategies: Run several strategies and compare totals
//
// Inspection:
//   - markers_overlay: Draw detected markers onto an image
//   - markers_crop_marker: Cut out one marker
//
// Configuration:
//   - markers_get_config: Current settings and host details
//   - markers_set_config: Change settings for later calls
//
// # State
//
// The batch lives for the lifetime of the process and is replaced by each
// markers_load_batch call. Strategy runs update the batch in place, so
// markers_batch_info and markers_overlay show the result of the latest run.
// Images given by path instead of batch name are cached by path.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
//
// A strategy run in which some images fail is not an error: the failures are
// listed in the returned report.
//
// # Usage
//
//	backend, err := detection.NewBackend(cfg.Backend, cfg.Detector.Dictionary)
//	...
//	srv := server.New(cfg, backend, server.WithLogger(log))
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal().Err(err).Msg("server stopped")
//	}
package server
