package epd

import (
	"errors"
	"fmt"
	"time"
)

// ErrAsleep is returned by frame operations issued after Sleep. Call WakeUp
// to re-initialize the panel first.
var ErrAsleep = errors.New("epd: panel is asleep")

// TransportError wraps a failure of the SPI bus or one of the GPIO lines.
// The panel state is undefined afterwards.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("epd: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates the busy line never reported idle within the
// configured budget.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("epd: %s: panel still busy after %v", e.Op, e.Timeout)
}

// BufferLengthError reports a pixel plane of the wrong size. It is returned
// before any bus activity.
type BufferLengthError struct {
	Plane string
	Got   int
	Want  int
}

func (e *BufferLengthError) Error() string {
	return fmt.Sprintf("epd: invalid %s plane length %d, expected %d bytes", e.Plane, e.Got, e.Want)
}
