// Package media provides local audio capture and playback for the console.
// Capture devices are acquired through the Devices interface so sessions can
// run against real hardware or a fake in tests.
package media

import (
	"context"
	"errors"
)

var (
	// ErrCaptureUnsupported indicates the host has no usable audio backend
	ErrCaptureUnsupported = errors.New("audio capture is not supported on this host")

	// ErrCaptureDenied indicates the host denied access to the microphone
	ErrCaptureDenied = errors.New("microphone access was denied")
)

// Track is a local media stream
type Track interface {
	ID() string
	Kind() string
}

// CaptureTrack is an owned local audio source. Close releases the underlying
// device.
type CaptureTrack interface {
	ID() string
	Kind() string
	Close() error
}

// CaptureConfig configures microphone acquisition
type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

// Devices acquires local capture hardware
type Devices interface {
	// AcquireMicrophone opens the default capture device and starts it.
	// Returns ErrCaptureUnsupported or ErrCaptureDenied on failure.
	AcquireMicrophone(ctx context.Context, cfg CaptureConfig) (CaptureTrack, error)

	// Close releases the audio backend
	Close()
}
