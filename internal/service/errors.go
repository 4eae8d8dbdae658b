package service

import "errors"

// Typed errors the delivery layer maps onto HTTP status codes.
var (
	ErrInvalidProjectID = errors.New("invalid project_id")
	ErrProjectNotFound  = errors.New("project not found")
	ErrRunNotFound      = errors.New("correction run not found")
	ErrNoStatistics     = errors.New("no statistics recorded for project")

	ErrQueueUnavailable = errors.New("correction queue is not configured")
)
