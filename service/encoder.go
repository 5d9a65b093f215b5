package service

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

type StillClipOptions struct {
	ImagePath  string
	OutputPath string
	Duration   int
	Width      int
	Height     int
	CRF        int
}

type FallbackClipOptions struct {
	OutputPath string
	Duration   int
	Width      int
	Height     int
	ClipIndex  int
	TotalClips int
}

// Encoder is the media-encoder port: still image -> timed segment,
// deterministic placeholder segment, and concat+mux of the final video.
type Encoder interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	RenderStillClip(ctx context.Context, opts StillClipOptions) error
	RenderFallbackClip(ctx context.Context, opts FallbackClipOptions) error
	// ConcatWithAudio concatenates the clips in order and muxes the original
	// audio on top. The output follows the shorter stream: audio is never
	// stretched and video is never looped to cover a length mismatch.
	ConcatWithAudio(ctx context.Context, clipPaths []string, audioPath, outputPath string) error
}

// FFmpegEncoder shells out to ffmpeg/ffprobe.
type FFmpegEncoder struct {
	FFmpegPath  string
	FFprobePath string
}

func NewFFmpegEncoder() *FFmpegEncoder {
	return &FFmpegEncoder{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

func (e *FFmpegEncoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return duration, nil
}

func (e *FFmpegEncoder) RenderStillClip(ctx context.Context, opts StillClipOptions) error {
	return e.run(ctx, stillClipArgs(opts))
}

func (e *FFmpegEncoder) RenderFallbackClip(ctx context.Context, opts FallbackClipOptions) error {
	return e.run(ctx, fallbackClipArgs(opts))
}

func (e *FFmpegEncoder) ConcatWithAudio(ctx context.Context, clipPaths []string, audioPath, outputPath string) error {
	listPath := filepath.Join(filepath.Dir(outputPath), "list_"+filepath.Base(outputPath)+".txt")
	if err := writeConcatList(listPath, clipPaths); err != nil {
		return err
	}
	defer os.Remove(listPath)

	return e.run(ctx, concatArgs(listPath, audioPath, outputPath))
}

func (e *FFmpegEncoder) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tailOf(stderr.String(), 512))
	}
	return nil
}

func stillClipArgs(opts StillClipOptions) []string {
	return []string{
		"-y",
		"-loop", "1",
		"-i", opts.ImagePath,
		"-t", strconv.Itoa(opts.Duration),
		"-r", "30",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-pix_fmt", "yuv420p",
		"-crf", strconv.Itoa(opts.CRF),
		opts.OutputPath,
	}
}

func fallbackClipArgs(opts FallbackClipOptions) []string {
	size := fmt.Sprintf("%dx%d", opts.Width, opts.Height)
	hue := fallbackHue(opts.ClipIndex, opts.TotalClips)
	return []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%s:d=%d", size, opts.Duration),
		"-t", strconv.Itoa(opts.Duration),
		"-r", "30",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-crf", "23",
		"-vf", fmt.Sprintf("drawbox=x=0:y=0:w=iw:h=ih:c=0x%02x2040@0.3:t=fill", hue),
		opts.OutputPath,
	}
}

func concatArgs(listPath, audioPath, outputPath string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-shortest",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outputPath,
	}
}

// fallbackHue derives the placeholder color from the segment's position in
// the sequence, so retries produce the same frame.
func fallbackHue(index, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(index) / float64(total) * 360))
}

func writeConcatList(listPath string, clipPaths []string) error {
	var b strings.Builder
	for _, p := range clipPaths {
		fmt.Fprintf(&b, "file '%s'\n", p)
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
