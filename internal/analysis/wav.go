package analysis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/moodflo/moodflo/internal/timeline"
)

// WAVSource is a FrameSource over a PCM WAV file, the format the upstream
// transcode step hands us. The whole file is decoded to mono float samples at
// open time; NextWindow then walks it window by window.
type WAVSource struct {
	samples    []float64
	sampleRate int
	window     float64
	classify   Classifier

	cursor     int
	lastEnergy float64
	started    bool
}

// OpenWAV decodes path and returns a source producing one frame every
// windowSeconds. classify may be nil, in which case the built-in heuristic
// classifier is used.
func OpenWAV(path string, windowSeconds float64, classify Classifier) (*WAVSource, error) {
	if windowSeconds <= 0 {
		return nil, errors.New("window seconds must be positive")
	}
	if classify == nil {
		classify = HeuristicClassifier
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}
	defer func() { _ = f.Close() }()

	samples, rate, err := decodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return &WAVSource{
		samples:    samples,
		sampleRate: rate,
		window:     windowSeconds,
		classify:   classify,
	}, nil
}

// Duration returns the media length in seconds.
func (s *WAVSource) Duration() float64 {
	if s.sampleRate == 0 {
		return 0
	}
	return float64(len(s.samples)) / float64(s.sampleRate)
}

// NextWindow returns the frame for the next window, or ErrEndOfMedia once
// the recording is exhausted.
func (s *WAVSource) NextWindow(ctx context.Context) (timeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return timeline.Frame{}, err
	}
	if s.cursor >= len(s.samples) {
		return timeline.Frame{}, ErrEndOfMedia
	}

	size := int(s.window * float64(s.sampleRate))
	if size <= 0 {
		size = 1
	}
	end := s.cursor + size
	if end > len(s.samples) {
		end = len(s.samples)
	}

	win := s.samples[s.cursor:end]
	start := float64(s.cursor) / float64(s.sampleRate)
	s.cursor = end

	energy := WindowEnergy(win)
	scores := s.classify(win, s.sampleRate)

	var shift float64
	if s.started {
		shift = math.Abs(energy - s.lastEnergy)
	}
	s.lastEnergy = energy
	s.started = true

	return timeline.Frame{
		Time:                   start,
		Energy:                 energy,
		Emotion:                MapEmotion(scores, energy),
		VolatilityContribution: shift,
	}, nil
}

// decodeWAV reads a RIFF/WAVE stream with 16-bit PCM data and returns mono
// samples in [-1,1] plus the sample rate. Channels are averaged down.
func decodeWAV(r io.Reader) ([]float64, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE stream")
	}

	var (
		channels   int
		sampleRate int
		bits       int
		data       []byte
	)

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, 0, errors.New("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported wav format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
		case "data":
			data = make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, 0, fmt.Errorf("read data chunk: %w", err)
			}
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, 0, fmt.Errorf("skip chunk %q: %w", id, err)
			}
		}
		// Chunks are word-aligned.
		if size%2 == 1 {
			_, _ = io.CopyN(io.Discard, r, 1)
		}
	}

	if sampleRate == 0 || channels == 0 {
		return nil, 0, errors.New("missing fmt chunk")
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d (want 16)", bits)
	}
	if len(data) == 0 {
		return nil, 0, errors.New("missing data chunk")
	}

	frameBytes := 2 * channels
	n := len(data) / frameBytes
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		var acc float64
		for c := 0; c < channels; c++ {
			off := i*frameBytes + c*2
			v := int16(binary.LittleEndian.Uint16(data[off : off+2]))
			acc += float64(v) / 32768.0
		}
		samples[i] = acc / float64(channels)
	}

	return samples, sampleRate, nil
}
