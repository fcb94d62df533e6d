//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealRelay drives actual hardware using the Linux GPIO character device.
type RealRelay struct {
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
	activeLow bool
}

// NewRealRelay requests pin as an output, initially inactive.
// Most relay boards sold for the Pi are active-low.
func NewRealRelay(pin int, activeLow bool) (*RealRelay, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(rawValue(false, activeLow)))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}

	return &RealRelay{chip: chip, line: line, activeLow: activeLow}, nil
}

// rawValue maps the logical relay state onto the line level.
func rawValue(active, activeLow bool) int {
	if active != activeLow {
		return 1
	}
	return 0
}

// Set drives the line.
func (r *RealRelay) Set(active bool) error {
	if err := r.line.SetValue(rawValue(active, r.activeLow)); err != nil {
		return fmt.Errorf("set relay pin: %w", err)
	}
	return nil
}

// Close switches the relay off, then releases the line as an input with
// pull-down (matching Pi boot defaults) so the boiler cannot be left firing
// by a floating pin across restarts.
func (r *RealRelay) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.SetValue(rawValue(false, r.activeLow)); err != nil {
			errs = append(errs, fmt.Errorf("switch relay off: %w", err))
		}
		if !r.activeLow {
			if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
				errs = append(errs, fmt.Errorf("reconfigure relay pin: %w", err))
			}
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
