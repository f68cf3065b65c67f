// Package marker defines the fiducial marker value type and the two list
// operations every detection strategy is built from: coordinate scaling and
// priority merging.
//
// # Coordinate System
//
// Corner coordinates are sub-pixel floating point values in the pixel space of
// the image they were detected in:
//   - Origin (0, 0) at the top-left corner
//   - X increases rightward
//   - Y increases downward
//
// When a marker is found in a resampled copy of an image (a pyramid level),
// Scale maps its corners back into the original image's pixel space.
//
// # Corner Order
//
// Corners are stored exactly as the detector reported them. Pose estimation
// depends on the winding order, so no function in this package reorders,
// sorts, or normalizes corners.
//
// # Merge Priority
//
// Merge combines two detection passes into one list with unique marker IDs.
// The first argument always wins an ID collision:
//
//	combined := marker.Merge(native, upsampled) // native detections win
//
// # Thread Safety
//
// All functions are pure: they never modify their inputs and return freshly
// allocated slices, so they may be called concurrently.
package marker
