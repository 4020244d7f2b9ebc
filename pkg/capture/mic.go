package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/repcoach/repcoach/pkg/coach"
)

// micSession wraps an ffmpeg process emitting raw s16le PCM on stdout.
type micSession struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// startMic spawns ffmpeg reading from the configured audio device and
// resampling to mono at the configured rate. Noise suppression and gain
// normalisation run in the ffmpeg filter graph; echo cancellation is left to
// the audio server's device-level processing.
func startMic(ctx context.Context, cfg Config) (*micSession, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", cfg.AudioInputFormat,
		"-i", cfg.AudioDevice,
		"-af", "afftdn=nf=-25,dynaudnorm=f=150",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
	cmd := exec.CommandContext(ctx, cfg.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, coach.NewDeviceError("open microphone pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, coach.NewDeviceError(fmt.Sprintf("start microphone capture on %q", cfg.AudioDevice), err)
	}
	return &micSession{cmd: cmd, stdout: stdout}, nil
}

func (m *micSession) Read(p []byte) (int, error) {
	return m.stdout.Read(p)
}

func (m *micSession) Close() error {
	m.closeOnce.Do(func() {
		_ = m.stdout.Close()
		if m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
		}
		m.closeErr = m.cmd.Wait()
	})
	return m.closeErr
}

// frameAudio reads fixed-size PCM blocks from r and emits each as an audio
// chunk. A short final block at end of stream is discarded, matching the
// fixed block contract downstream.
func frameAudio(ctx context.Context, r io.Reader, blockBytes, sampleRate int, emit func(coach.MediaChunk), logger *slog.Logger) {
	buf := make([]byte, blockBytes)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF && ctx.Err() == nil {
				logger.Warn("microphone read failed", "error", err)
			}
			return
		}
		data := make([]byte, len(buf))
		copy(data, buf)
		emit(coach.MediaChunk{
			Kind:       coach.ChunkAudio,
			MIMEType:   fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
			Data:       data,
			CapturedAt: time.Now(),
		})
	}
}
