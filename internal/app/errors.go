package service

import "errors"

// Sentinel errors returned by the service.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrNotConfigured   = errors.New("service not configured")
	ErrQueueFull       = errors.New("ingestion queue full")
	ErrInvalidFeedback = errors.New("invalid feedback")
	ErrInvalidVehicle  = errors.New("invalid vehicle")
	ErrVehicleExists   = errors.New("vehicle already registered")
)
