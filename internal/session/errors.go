package session

import "errors"

// Session start failures. None of these are retried automatically; every
// retry is a fresh user-initiated start.
var (
	// ErrCredentialMissing indicates the token service URL is not configured
	ErrCredentialMissing = errors.New("token service credential is not configured")

	// ErrPermissionDenied indicates microphone access was refused
	ErrPermissionDenied = errors.New("microphone permission was denied")

	// ErrUnsupportedEnvironment indicates no capture backend is available on
	// this host. Distinct from ErrPermissionDenied because the remediation
	// differs: install or enable an audio backend rather than grant access.
	ErrUnsupportedEnvironment = errors.New("audio capture is not available in this environment")

	// ErrTokenFetchFailed indicates the token service answered with an error
	ErrTokenFetchFailed = errors.New("failed to fetch connection token")

	// ErrTransportConnectFailed indicates the room connection could not be
	// established
	ErrTransportConnectFailed = errors.New("failed to connect to the room")
)
