package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Canonical format expected by the diarization model.
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	CanonicalExtension  = ".wav"
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// NeedsNormalization reports whether a file must be converted before use.
// The decision is made from the extension alone: only ".wav" is trusted.
func NeedsNormalization(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) != CanonicalExtension
}

// SafeExtension returns the lower-cased extension of filename when it is a
// short alphanumeric suffix, and "" otherwise. Directory parts are ignored.
func SafeExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if !safeExt.MatchString(ext) {
		return ""
	}
	return ext
}

// FFmpegNormalizer converts any audio file to 16kHz mono WAV format
type FFmpegNormalizer struct {
	ffmpeg string
	log    *slog.Logger
}

// NewFFmpegNormalizer creates a normalizer using the given ffmpeg binary.
func NewFFmpegNormalizer(ffmpegPath string, log *slog.Logger) *FFmpegNormalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegNormalizer{ffmpeg: ffmpegPath, log: log}
}

// Normalize writes a 16kHz mono 16-bit PCM WAV of inputPath to outputPath
// and checks the result header.
func (n *FFmpegNormalizer) Normalize(ctx context.Context, inputPath, outputPath string) error {
	start := time.Now()
	cmd := exec.CommandContext(ctx, n.ffmpeg,
		"-nostdin",
		"-i", inputPath,
		"-ar", "16000", // 16kHz sample rate
		"-ac", "1", // Mono
		"-c:a", "pcm_s16le", // 16-bit PCM
		"-y", // Overwrite output
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %v\nOutput: %s", err, lastLines(string(output), 5))
	}

	info, err := InspectWAV(outputPath)
	if err != nil {
		return fmt.Errorf("inspect normalized audio: %w", err)
	}
	if info.SampleRate != CanonicalSampleRate || info.Channels != CanonicalChannels {
		return fmt.Errorf("normalized audio is %d Hz / %d ch, want %d Hz / %d ch",
			info.SampleRate, info.Channels, CanonicalSampleRate, CanonicalChannels)
	}

	n.log.Debug("audio normalized",
		slog.String("output", filepath.Base(outputPath)),
		slog.Duration("audio", info.Duration),
		slog.Duration("took", time.Since(start)))
	return nil
}

// WAVInfo describes a WAV file header.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// InspectWAV reads the header of a WAV file.
func InspectWAV(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return WAVInfo{}, fmt.Errorf("%s is not a valid WAV file", filepath.Base(path))
	}
	duration, err := dec.Duration()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("read WAV duration: %w", err)
	}
	return WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   duration,
	}, nil
}

// LoadSamples decodes a mono 16-bit WAV file into float32 samples in [-1, 1].
func LoadSamples(path string) ([]float32, WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WAVInfo{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, WAVInfo{}, fmt.Errorf("decode WAV: %w", err)
	}
	info := WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if info.SampleRate > 0 && info.Channels > 0 {
		frames := len(buf.Data) / info.Channels
		info.Duration = time.Duration(float64(frames) / float64(info.SampleRate) * float64(time.Second))
	}

	scale := float32(32768.0)
	if info.BitDepth > 0 {
		scale = float32(int64(1) << (info.BitDepth - 1))
	}
	samples := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float32(s) / scale
	}
	return samples, info, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
