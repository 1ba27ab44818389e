package media

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
)

// SystemDevices acquires capture hardware through the miniaudio backend
type SystemDevices struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewSystemDevices initializes the host audio backend
func NewSystemDevices() (*SystemDevices, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnsupported, err)
	}
	return &SystemDevices{ctx: ctx}, nil
}

// AcquireMicrophone opens and starts the default capture device
func (d *SystemDevices) AcquireMicrophone(ctx context.Context, cfg CaptureConfig) (CaptureTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, ErrCaptureUnsupported
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = cfg.Channels
	deviceConfig.SampleRate = cfg.SampleRate

	track := &captureTrack{
		id:  "mic-" + uuid.New().String(),
		buf: NewRingBuffer(int(cfg.SampleRate) * 2), // one second of 16-bit mono
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			track.buf.Write(data)
		},
	}

	dev, err := malgo.InitDevice(d.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, classifyCaptureError(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, classifyCaptureError(err)
	}

	track.device = dev
	return track, nil
}

// Close releases the audio backend
func (d *SystemDevices) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}

// classifyCaptureError maps backend failures onto the package error taxonomy
func classifyCaptureError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access") || strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrCaptureDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrCaptureUnsupported, err)
}

// captureTrack is a running microphone device feeding a ring buffer
type captureTrack struct {
	id     string
	buf    *RingBuffer
	device *malgo.Device

	closeOnce sync.Once
}

func (t *captureTrack) ID() string   { return t.id }
func (t *captureTrack) Kind() string { return "audio" }

// ReadPCM drains captured audio into p, returning the number of bytes read
func (t *captureTrack) ReadPCM(p []byte) int {
	return t.buf.Read(p)
}

// Close stops and releases the capture device
func (t *captureTrack) Close() error {
	t.closeOnce.Do(func() {
		if t.device != nil {
			t.device.Uninit()
		}
	})
	return nil
}

var _ Devices = (*SystemDevices)(nil)
var _ CaptureTrack = (*captureTrack)(nil)
