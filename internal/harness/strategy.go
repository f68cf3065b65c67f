package harness

import "fmt"

// Strategy names a detection discipline.
type Strategy string

const (
	Serial     Strategy = "serial"
	Shared     Strategy = "shared"
	FastShared Strategy = "fast-shared"
	Cloned     Strategy = "cloned"
	Pyramid    Strategy = "pyramid"
)

// Strategies returns every strategy in the order they are usually compared.
func Strategies() []Strategy {
	return []Strategy{Serial, Shared, FastShared, Cloned, Pyramid}
}

// ParseStrategy validates a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range Strategies() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown strategy: %s", name)
}

// Concurrent reports whether the strategy dispatches images in parallel.
func (s Strategy) Concurrent() bool {
	return s != Serial
}
