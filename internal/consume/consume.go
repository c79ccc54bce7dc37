// Package consume defines the generic push interface used to hand values to
// a downstream component without knowing how it transports them.
package consume

import "errors"

// ErrFull is returned by non-blocking consumers whose buffer is full.
var ErrFull = errors.New("consume: buffer full")

// Consumer accepts values pushed by a producer. A nil error means the value
// was accepted, not that it was processed.
type Consumer[T any] interface {
	Consume(v T) error
}

// Func adapts an ordinary function to the Consumer interface.
type Func[T any] func(v T) error

// Consume calls f(v).
func (f Func[T]) Consume(v T) error { return f(v) }

// NonBlocking returns a Consumer that offers values to ch without waiting.
// A full channel yields ErrFull.
func NonBlocking[T any](ch chan<- T) Consumer[T] {
	return Func[T](func(v T) error {
		select {
		case ch <- v:
			return nil
		default:
			return ErrFull
		}
	})
}
