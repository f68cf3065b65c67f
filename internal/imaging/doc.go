// Package imaging loads grayscale images for marker detection and renders
// detection results.
//
// All operations work on the coordinate system used by detectors: (0,0) is
// the top-left corner, X increases rightward and Y increases downward.
// Every image handed to a detector is an *image.Gray anchored at the origin;
// ToGray converts anything else.
//
// # Sources
//
// LoadGray decodes a single PNG, JPEG, GIF, BMP or TIFF file. LoadDir walks a
// directory in name order and loads up to a maximum number of frames,
// rasterizing PDF marker sheets page by page (named "sheet.pdf#p1",
// "sheet.pdf#p2", ...). Files that fail to decode are reported in
// LoadResult.Skipped rather than failing the whole directory.
//
// # Pyramid Resampling
//
// A Resampler halves or doubles resolution for multi-scale detection.
// GaussianResampler is pure Go; OpenCVResampler wraps pyrDown/pyrUp and is
// only compiled with the gocv build tag. DefaultResampler picks the best one
// available in the current build.
//
// # Overlays
//
// RenderOverlay and WriteOverlay draw marker outlines, ID labels and a marker
// count onto a copy of an image. CropMarker cuts out the region around one
// marker.
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use. All other functions are
// stateless and never modify their input images.
package imaging
