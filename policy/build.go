package policy

import (
	"fmt"
	"time"

	"github.com/pithecene-io/sluice/log"
)

// Policy names accepted by Build.
const (
	NameStrict   = "strict"
	NameBuffered = "buffered"
	NameNoop     = "noop"
)

// Choice selects and sizes a delivery policy.
type Choice struct {
	Name         string
	QueueSize    int
	StallTimeout time.Duration
}

// Validate reports whether the choice names a known policy with sane sizes.
func (c Choice) Validate() error {
	switch c.Name {
	case NameStrict, NameBuffered, NameNoop:
	default:
		return fmt.Errorf("invalid policy: %s (must be strict, buffered or noop)", c.Name)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue size must be >= 0, got %d", c.QueueSize)
	}
	if c.StallTimeout < 0 {
		return fmt.Errorf("stall timeout must be >= 0, got %s", c.StallTimeout)
	}
	return nil
}

// Build creates the chosen policy writing to sink. The noop policy ignores
// sink.
func Build(c Choice, sink Sink, streamID string, logger *log.Logger) (Policy, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Name {
	case NameBuffered:
		return NewBufferedPolicy(sink, BufferedConfig{
			StreamID:     streamID,
			QueueSize:    c.QueueSize,
			StallTimeout: c.StallTimeout,
			Logger:       logger,
		})
	case NameNoop:
		return NewNoopPolicy(streamID), nil
	default:
		return NewStrictPolicy(sink, StrictConfig{
			StreamID:     streamID,
			StallTimeout: c.StallTimeout,
			Logger:       logger,
		}), nil
	}
}
