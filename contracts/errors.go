package contracts

import (
	"errors"
)

// Validation errors raised before any store I/O occurs.
var (
	// ErrInvalidRetryLimit is returned when a publish requests a retry limit below 1.
	ErrInvalidRetryLimit = errors.New("retry limit must be at least 1")
	// ErrEmptyTopic is returned when a topic is required but empty.
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrNilMessage is returned when a nil message is published.
	ErrNilMessage = errors.New("message cannot be nil")
	// ErrEmptySchemaTag is returned when a subscription filters on an empty schema tag.
	ErrEmptySchemaTag = errors.New("schema tag cannot be empty")
	// ErrNilHandler is returned when a subscription registers a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")
)
