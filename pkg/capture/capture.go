// Package capture produces media chunks from the live microphone and camera:
// 16 kHz mono PCM framed into fixed-size blocks, and periodic JPEG frames
// downscaled for transport. Both devices are driven through ffmpeg child
// processes.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/repcoach/repcoach/pkg/coach"
)

// Config describes how capture devices are opened.
type Config struct {
	FFmpegPath string

	AudioInputFormat string // e.g. pulse, avfoundation, alsa
	AudioDevice      string
	SampleRate       int // Hz, default 16000
	BlockSamples     int // samples per emitted audio chunk, default 4096

	VideoInputFormat string // e.g. v4l2, avfoundation
	VideoDevice      string
	FrameInterval    time.Duration // default 200ms
	FrameWidth       int           // default 512
	FrameHeight      int           // default 288
	JPEGQuality      int           // ffmpeg -q:v scale (2 best..31 worst), default 8

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.AudioInputFormat == "" {
		c.AudioInputFormat = "pulse"
	}
	if c.AudioDevice == "" {
		c.AudioDevice = "default"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.BlockSamples <= 0 {
		c.BlockSamples = 4096
	}
	if c.VideoInputFormat == "" {
		c.VideoInputFormat = "v4l2"
	}
	if c.VideoDevice == "" {
		c.VideoDevice = "/dev/video0"
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = 200 * time.Millisecond
	}
	if c.FrameWidth <= 0 {
		c.FrameWidth = 512
	}
	if c.FrameHeight <= 0 {
		c.FrameHeight = 288
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Pipeline owns the capture processes and the chunk stream. Lifecycle:
// Acquire opens both devices (failing fast with a device error), Run starts
// emitting, Close releases everything. Close is idempotent and safe at any
// stage.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	chunks chan coach.MediaChunk

	mu     sync.Mutex
	mic    *micSession
	camera *cameraSession
	closed bool

	wg sync.WaitGroup
}

// NewPipeline creates an unstarted pipeline.
func NewPipeline(cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
		chunks: make(chan coach.MediaChunk, 32),
	}
}

// Acquire opens the microphone and camera. Any failure releases whatever was
// opened and returns a device error; the pipeline is then unusable.
func (p *Pipeline) Acquire(ctx context.Context) error {
	mic, err := startMic(ctx, p.cfg)
	if err != nil {
		return err
	}
	camera, err := startCamera(ctx, p.cfg)
	if err != nil {
		_ = mic.Close()
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = mic.Close()
		_ = camera.Close()
		return coach.NewDeviceError("capture pipeline already closed", nil)
	}
	p.mic = mic
	p.camera = camera
	return nil
}

// Run starts the audio framer and the video sampler. Chunks are delivered on
// Chunks(); when the consumer falls behind the oldest chunk is dropped so the
// device read loops never stall.
func (p *Pipeline) Run(ctx context.Context) {
	p.mu.Lock()
	mic, camera := p.mic, p.camera
	p.mu.Unlock()
	if mic == nil || camera == nil {
		return
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		frameAudio(ctx, mic, p.cfg.BlockSamples*2, p.cfg.SampleRate, p.emit, p.logger)
	}()
	go func() {
		defer p.wg.Done()
		sampleFrames(ctx, camera, p.cfg.FrameInterval, p.emit)
	}()
}

// Chunks returns the stream of captured media chunks.
func (p *Pipeline) Chunks() <-chan coach.MediaChunk {
	return p.chunks
}

// emit hands a chunk to the consumer without ever blocking the capture
// loops: when the buffer is full the oldest chunk is discarded.
func (p *Pipeline) emit(chunk coach.MediaChunk) {
	for {
		select {
		case p.chunks <- chunk:
			return
		default:
		}
		select {
		case <-p.chunks:
		default:
		}
	}
}

// Close stops both devices and waits for the emit loops. Idempotent;
// tolerates a pipeline that never acquired anything.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	mic, camera := p.mic, p.camera
	p.mic, p.camera = nil, nil
	p.mu.Unlock()

	if mic != nil {
		_ = mic.Close()
	}
	if camera != nil {
		_ = camera.Close()
	}
	p.wg.Wait()
	return nil
}
