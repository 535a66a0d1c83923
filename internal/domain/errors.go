package domain

import "errors"

var (
	// ErrValidation is returned when an intake request is malformed; no session is created.
	ErrValidation = errors.New("invalid generation request")
	// ErrUnknownUnit indicates a requested scope unit does not resolve to a known subtopic.
	ErrUnknownUnit = errors.New("unknown scope unit")
	// ErrEmptyContext indicates no content fragment cleared the confidence threshold.
	// Retrying does not help; the task fails terminally.
	ErrEmptyContext = errors.New("no usable context above confidence threshold")
	// ErrGenerationExhausted indicates the LLM never produced a valid candidate
	// within the bounded retry budget.
	ErrGenerationExhausted = errors.New("generation attempts exhausted")
	// ErrPersistence indicates a write-time failure (e.g. the referenced subtopic
	// no longer exists). Not retried.
	ErrPersistence = errors.New("failed to persist question")
	// ErrSessionNotFound is returned by status/cancel for unknown or expired sessions.
	ErrSessionNotFound = errors.New("generation session not found")
)
