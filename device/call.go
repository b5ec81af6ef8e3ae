package device

import (
	"context"
	"errors"
	"time"
)

// Do runs fn with a deadline. A non-positive timeout waits for fn without
// limit, though ctx cancellation is still honoured. Failures come back as a
// *TransmissionError naming op; expiry wraps ErrTimeout.
//
// fn keeps running in the background after a timeout, since the serial
// primitives have no way to abort a write in flight.
func Do(ctx context.Context, timeout time.Duration, op string, fn func() error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		if err != nil {
			return &TransmissionError{Op: op, Err: err}
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TransmissionError{Op: op, Err: ErrTimeout}
		}
		return &TransmissionError{Op: op, Err: ctx.Err()}
	}
}

// Connect opens dev with a deadline and reports failures as *ConnectionError.
func Connect(ctx context.Context, timeout time.Duration, port string, dev Facade) error {
	err := Do(ctx, timeout, "connect", dev.Connect)
	if err == nil {
		return nil
	}
	var te *TransmissionError
	if errors.As(err, &te) {
		err = te.Err
	}
	return &ConnectionError{Port: port, Err: err}
}
