package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth  = 16
	wavPCMFormat = 1
	pcmScale     = 32768.0
)

// ErrInvalidWAV is returned by ReadWAV for files that are not PCM WAV.
var ErrInvalidWAV = errors.New("audio: not a valid WAV file")

// WriteWAV writes interleaved float32 samples in [-1, 1] to path as 16-bit
// PCM. Out-of-range samples are clipped. Parent directories are created.
func WriteWAV(path string, samples []float32, sampleRate, channels uint32) error {
	if sampleRate == 0 || channels == 0 {
		return fmt.Errorf("audio: invalid format %d Hz x %d channels", sampleRate, channels)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating recordings dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating wav file: %w", err)
	}
	defer func() { _ = f.Close() }()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = floatToPCM16(s)
	}

	enc := wav.NewEncoder(f, int(sampleRate), wavBitDepth, int(channels), wavPCMFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: int(channels), SampleRate: int(sampleRate)},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return f.Close()
}

// ReadWAV loads a 16-bit PCM WAV file and returns its interleaved samples
// normalized to [-1, 1] together with the sample rate and channel count.
func ReadWAV(path string) (samples []float32, sampleRate, channels uint32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("opening wav file: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding wav %s: %w", path, err)
	}

	samples = make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float32(s) / pcmScale
	}
	return samples, dec.SampleRate, uint32(dec.NumChans), nil
}

func floatToPCM16(s float32) int {
	v := int(s * pcmScale)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}
