// Package harness runs a batch of images through one of several detection
// strategies and reports marker yield and timing, so that the strategies'
// correctness and throughput can be compared on the same input.
//
// # Strategies
//
//   - serial: one full detector, configured once, images in order.
//   - shared: one full detector called concurrently by every task.
//   - fast-shared: one fast detector called concurrently by every task.
//   - cloned: the configured detector's config is serialized once and every
//     task restores its own private detector from those bytes.
//   - pyramid: every task builds its own fast detector and runs a pyramid
//     search with it.
//
// The shared strategies exist to exercise a backend's thread safety. Wrong
// results under them are findings about the backend, not harness failures,
// so only serial and cloned are expected to agree on marker totals.
//
// # Failure Containment
//
// Each image is one task. A task records its own failure in Image.Err and
// never affects siblings: detector errors, detector panics, cloned detectors
// that cannot be restored and cancelled contexts all end up there. Only
// problems that prevent a strategy from starting at all, such as a shared
// detector that cannot be built, are returned from Run.
//
// After Run every image is either Done or has a non-nil Err.
package harness
