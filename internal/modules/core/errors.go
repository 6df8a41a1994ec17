package core

import (
	"errors"
	"fmt"
)

// ErrUnknownEvent marks an event whose topic is outside the recognized
// vocabulary. Callers skip it.
type ErrUnknownEvent struct {
	Topic string
}

func (e ErrUnknownEvent) Error() string {
	return "unknown event topic: " + e.Topic
}

// ErrMalformedEvent marks a recognized event whose payload could not be
// decoded. Callers must not advance past it silently.
type ErrMalformedEvent struct {
	Event  EventType
	Reason string
	Err    error
}

func (e ErrMalformedEvent) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s event: %s: %v", e.Event, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s event: %s", e.Event, e.Reason)
}

func (e ErrMalformedEvent) Unwrap() error {
	return e.Err
}

func IsUnknownEvent(err error) bool {
	var target ErrUnknownEvent
	return errors.As(err, &target)
}

func IsMalformedEvent(err error) bool {
	var target ErrMalformedEvent
	return errors.As(err, &target)
}

func malformed(event EventType, reason string) error {
	return ErrMalformedEvent{Event: event, Reason: reason}
}
