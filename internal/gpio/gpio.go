// Package gpio drives the boiler relay with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Relay drives the single heating output line.
type Relay interface {
	// Set drives the relay. active = boiler firing, independent of the
	// electrical polarity of the line.
	Set(active bool) error

	// Close releases GPIO resources, leaving the relay inactive.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinRelay = 26 // Boiler relay
)
