// Package detection defines the marker detector capability the rest of the
// module is written against, and the tunable configuration shared by every
// detection strategy.
//
// The decoding itself (adaptive thresholding, quad extraction, bit sampling,
// corner refinement) belongs to an external vision library. This package
// only describes the contract and adapts concrete libraries to it.
//
// # Detector Variants
//
// Two variants exist, mirroring the two families found in ArUco libraries:
//
//   - ConfigurableDetector: the full-featured detector. Its parameters can be
//     changed with Configure and captured with Config.
//   - Detector (from Backend.NewFast): a fast detector with a fixed, narrow
//     parameter set. It is cheap to construct, which makes it suitable for
//     one-instance-per-task use.
//
// A Backend constructs both variants. Callers never depend on a concrete
// library type, so the pyramid detector and the strategy harness work unchanged
// with any backend, including the in-memory one in detectiontest.
//
// # Cloning Through Bytes
//
// A detector's configuration can be serialized once and restored many times:
//
//	data, err := detector.Config().MarshalBinary()
//	// ... in each task:
//	private, err := detection.Clone(backend, data)
//	defer private.Close()
//
// Every restored detector is independent of the source and of each other.
// Corrupted or truncated streams are rejected with ErrInvalidConfig.
//
// # Backends
//
// The "aruco" backend wraps OpenCV's ArUco module through gocv and is only
// compiled with the gocv build tag:
//
//	go build -tags gocv ./...
//
// Without the tag, NewArucoBackend returns ErrBackendUnavailable so the rest
// of the module still builds and tests without a native OpenCV install.
//
// # Thread Safety
//
// Whether concurrent Detect calls on one instance are safe is a property of
// the backend, not of this package. OpenCV's ArucoDetector performs detection
// through a const method and allocates its working buffers per call. Configure
// must never run concurrently with Detect on the same instance.
package detection
