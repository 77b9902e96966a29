// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package render

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// Quality selects the H.264 CRF.
type Quality string

// Qualities.
const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// CRF returns the libx264 constant rate factor for the quality.
func (q Quality) CRF() (string, error) {
	switch q {
	case QualityLow:
		return "28", nil
	case "", QualityMedium:
		return "23", nil
	case QualityHigh:
		return "18", nil
	}
	return "", Error.New("unknown quality %q", q)
}

// sequencePattern is the ffmpeg input pattern matching SequenceFileName.
const sequencePattern = "frame_%05d.png"

// MP4Args builds the H.264 encode command line.
func MP4Args(workDir, output string, fps int, quality Quality) ([]string, error) {
	crf, err := quality.CRF()
	if err != nil {
		return nil, err
	}
	return []string{
		"-y",
		"-framerate", itoa(fps),
		"-i", filepath.Join(workDir, sequencePattern),
		"-c:v", "libx264",
		"-crf", crf,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		output,
	}, nil
}

// PaletteArgs builds the first GIF pass, generating a palette.
func PaletteArgs(workDir, palette string, fps int) []string {
	return []string{
		"-y",
		"-framerate", itoa(fps),
		"-i", filepath.Join(workDir, sequencePattern),
		"-vf", "palettegen",
		palette,
	}
}

// GIFArgs builds the second GIF pass using the generated palette.
func GIFArgs(workDir, palette, output string, fps int) []string {
	return []string{
		"-y",
		"-framerate", itoa(fps),
		"-i", filepath.Join(workDir, sequencePattern),
		"-i", palette,
		"-lavfi", "paletteuse",
		output,
	}
}

// Encoder runs ffmpeg.
type Encoder struct {
	log    *zap.Logger
	binary string
}

// NewEncoder creates an encoder; an empty binary means "ffmpeg" from
// PATH.
func NewEncoder(log *zap.Logger, binary string) *Encoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Encoder{log: log, binary: binary}
}

// Run executes one ffmpeg invocation, capturing stderr for diagnostics.
func (enc *Encoder) Run(ctx context.Context, args []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	cmd := exec.CommandContext(ctx, enc.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		enc.log.Error("encode failed",
			zap.Strings("args", args),
			zap.String("stderr", tail(stderr.String(), 2000)))
		return Error.New("%s failed: %v", enc.binary, err)
	}
	return nil
}

// EncodeMP4 encodes the numbered sequence in workDir to output.
func (enc *Encoder) EncodeMP4(ctx context.Context, workDir, output string, fps int, quality Quality) error {
	args, err := MP4Args(workDir, output, fps, quality)
	if err != nil {
		return err
	}
	return enc.Run(ctx, args)
}

// EncodeGIF runs the two-pass palette encode.
func (enc *Encoder) EncodeGIF(ctx context.Context, workDir, output string, fps int) error {
	palette := filepath.Join(workDir, "palette.png")
	if err := enc.Run(ctx, PaletteArgs(workDir, palette, fps)); err != nil {
		return err
	}
	return enc.Run(ctx, GIFArgs(workDir, palette, output, fps))
}

func itoa(fps int) string {
	if fps <= 0 {
		fps = 10
	}
	return strconv.Itoa(fps)
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
