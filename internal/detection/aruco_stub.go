//go:build !gocv

package detection

import "fmt"

// ArucoBackend is unavailable without the gocv build tag.
type ArucoBackend struct{}

// NewArucoBackend always fails in builds without gocv.
func NewArucoBackend(dictionary string) (*ArucoBackend, error) {
	return nil, fmt.Errorf("%w: aruco requires the gocv build tag", ErrBackendUnavailable)
}

// Name implements Backend.
func (b *ArucoBackend) Name() string {
	return "aruco"
}

// NewFull implements Backend.
func (b *ArucoBackend) NewFull() (ConfigurableDetector, error) {
	return nil, ErrBackendUnavailable
}

// NewFast implements Backend.
func (b *ArucoBackend) NewFast() (Detector, error) {
	return nil, ErrBackendUnavailable
}
