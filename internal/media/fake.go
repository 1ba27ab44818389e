package media

import (
	"context"
	"sync"
)

// FakeDevices is an in-memory Devices implementation for tests
type FakeDevices struct {
	mu sync.Mutex

	// AcquireErr is returned from AcquireMicrophone when set
	AcquireErr error

	acquired []*FakeTrack
	closed   bool
}

// NewFakeDevices creates a fake audio backend
func NewFakeDevices() *FakeDevices {
	return &FakeDevices{}
}

// AcquireMicrophone returns a new fake capture track, or AcquireErr when set
func (d *FakeDevices) AcquireMicrophone(ctx context.Context, cfg CaptureConfig) (CaptureTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AcquireErr != nil {
		return nil, d.AcquireErr
	}

	track := &FakeTrack{TrackID: "fake-mic"}
	d.acquired = append(d.acquired, track)
	return track, nil
}

// Close marks the backend closed
func (d *FakeDevices) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// Acquired returns every track handed out so far
func (d *FakeDevices) Acquired() []*FakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeTrack, len(d.acquired))
	copy(out, d.acquired)
	return out
}

// FakeTrack is an in-memory capture track
type FakeTrack struct {
	TrackID string

	mu     sync.Mutex
	pcm    []byte
	closed bool
}

func (t *FakeTrack) ID() string   { return t.TrackID }
func (t *FakeTrack) Kind() string { return "audio" }

// Feed appends PCM bytes for subsequent reads
func (t *FakeTrack) Feed(pcm []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pcm = append(t.pcm, pcm...)
}

// ReadPCM drains fed audio into p
func (t *FakeTrack) ReadPCM(p []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(p, t.pcm)
	t.pcm = t.pcm[n:]
	return n
}

// Close marks the track closed
func (t *FakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether Close has been called
func (t *FakeTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

var _ Devices = (*FakeDevices)(nil)
var _ CaptureTrack = (*FakeTrack)(nil)
