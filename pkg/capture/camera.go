package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/repcoach/repcoach/pkg/coach"
)

// cameraSession wraps an ffmpeg process emitting a concatenated MJPEG stream
// on stdout. A background reader keeps only the most recent complete frame;
// the sampler picks it up on its own clock so slow consumers never queue
// stale video.
type cameraSession struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu     sync.Mutex
	latest []byte

	closeOnce sync.Once
	closeErr  error
}

func startCamera(ctx context.Context, cfg Config) (*cameraSession, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", cfg.VideoInputFormat,
		"-i", cfg.VideoDevice,
		"-vf", fmt.Sprintf("scale=%d:%d", cfg.FrameWidth, cfg.FrameHeight),
		"-q:v", fmt.Sprintf("%d", cfg.JPEGQuality),
		"-f", "mjpeg",
		"-",
	}
	cmd := exec.CommandContext(ctx, cfg.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, coach.NewDeviceError("open camera pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, coach.NewDeviceError(fmt.Sprintf("start camera capture on %q", cfg.VideoDevice), err)
	}
	s := &cameraSession{cmd: cmd, stdout: stdout}
	go s.readFrames()
	return s, nil
}

func (c *cameraSession) readFrames() {
	r := bufio.NewReaderSize(c.stdout, 1<<16)
	var buf bytes.Buffer
	for {
		frame, err := nextJPEGFrame(r, &buf)
		if err != nil {
			return
		}
		c.mu.Lock()
		c.latest = frame
		c.mu.Unlock()
	}
}

// Latest returns the most recent complete frame, or nil when none has
// arrived yet.
func (c *cameraSession) Latest() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

func (c *cameraSession) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stdout.Close()
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		c.closeErr = c.cmd.Wait()
	})
	return c.closeErr
}

// nextJPEGFrame scans the stream for the next SOI..EOI marker pair and
// returns the bytes between them inclusive. buf is reused across calls.
func nextJPEGFrame(r *bufio.Reader, buf *bytes.Buffer) ([]byte, error) {
	// Seek the start-of-image marker.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == 0xD8 {
			break
		}
	}
	buf.Reset()
	buf.WriteByte(0xFF)
	buf.WriteByte(0xD8)
	// Copy until end-of-image.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b != 0xFF {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(next)
		if next == 0xD9 {
			frame := make([]byte, buf.Len())
			copy(frame, buf.Bytes())
			return frame, nil
		}
	}
}

// latestFrameSource is what the sampler needs from a camera.
type latestFrameSource interface {
	Latest() []byte
}

// sampleFrames emits the camera's most recent frame at a fixed interval,
// silently skipping ticks where no frame is available yet.
func sampleFrames(ctx context.Context, src latestFrameSource, interval time.Duration, emit func(coach.MediaChunk)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := src.Latest()
			if frame == nil {
				continue
			}
			emit(coach.MediaChunk{
				Kind:       coach.ChunkImage,
				MIMEType:   "image/jpeg",
				Data:       frame,
				CapturedAt: time.Now(),
			})
		}
	}
}
