package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const stderrLimit = 300

// YTDLPResolver resolves live stream pages with yt-dlp
type YTDLPResolver struct {
	Path        string
	Format      string
	CookiesFile string
	Timeout     time.Duration
}

// Resolve runs `yt-dlp -f <format> -g [--cookies file] <locator>` and returns
// the first URL it prints.
func (r *YTDLPResolver) Resolve(ctx context.Context, locator string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-f", r.Format, "-g"}
	if r.CookiesFile != "" {
		args = append(args, "--cookies", r.CookiesFile)
	}
	args = append(args, locator)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("yt-dlp did not finish: %w", ctx.Err())
		}
		return "", fmt.Errorf("yt-dlp failed: %w: %s", err, clip(stderr.String()))
	}

	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("yt-dlp returned empty URL")
}

// FFmpegRecorder records mono 16 kHz PCM WAV segments with ffmpeg
type FFmpegRecorder struct {
	Path string
}

// Record runs ffmpeg for duration of audio. The process is killed when ctx is
// done or after duration*12+60s.
func (r *FFmpegRecorder) Record(ctx context.Context, mediaURL string, duration time.Duration, outPath string) error {
	limit := duration*12 + 60*time.Second
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	secs := strconv.FormatFloat(duration.Seconds(), 'f', -1, 64)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Path,
		"-hide_banner", "-loglevel", "warning",
		"-i", mediaURL,
		"-t", secs,
		"-vn",
		"-ac", "1", "-ar", "16000",
		"-acodec", "pcm_s16le",
		"-y", outPath,
	)
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg did not finish: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, clip(stderr.String()))
	}
	return nil
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrLimit {
		return s[:stderrLimit]
	}
	return s
}
