package router

import "errors"

var (
	// ErrNoBackendAvailable is returned when neither a replica nor the master
	// can be selected for a request.
	ErrNoBackendAvailable = errors.New("router: no backend available")

	// ErrUnknownGroup is returned for a group name the router was not built with.
	ErrUnknownGroup = errors.New("router: unknown group")
)
