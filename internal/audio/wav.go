package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Segment recordings are 16 kHz mono PCM-16
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

// ErrNotWAV is returned when the input lacks a RIFF/WAVE header
var ErrNotWAV = errors.New("not a WAV file")

// Info describes a WAV stream
type Info struct {
	SampleRate    uint32        `json:"sample_rate"`
	Channels      uint16        `json:"channels"`
	BitsPerSample uint16        `json:"bits_per_sample"`
	DataSize      uint32        `json:"data_size_bytes"`
	Duration      time.Duration `json:"duration"`
}

// fmtChunk is the PCM "fmt " chunk body
type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

type chunkHeader struct {
	ID   [4]byte
	Size uint32
}

// EncodeWAV wraps mono PCM-16 samples in a canonical 44-byte header
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	write := func(v any) error { return binary.Write(buf, binary.LittleEndian, v) }
	parts := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		chunkHeader{ID: [4]byte{'f', 'm', 't', ' '}, Size: 16},
		fmtChunk{
			AudioFormat:   1,
			NumChannels:   Channels,
			SampleRate:    uint32(sampleRate),
			ByteRate:      uint32(sampleRate) * Channels * BitsPerSample / 8,
			BlockAlign:    Channels * BitsPerSample / 8,
			BitsPerSample: BitsPerSample,
		},
		chunkHeader{ID: [4]byte{'d', 'a', 't', 'a'}, Size: dataSize},
		samples,
	}
	for _, p := range parts {
		if err := write(p); err != nil {
			return nil, fmt.Errorf("failed to write WAV data: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// Silence returns d worth of zero samples at sampleRate
func Silence(sampleRate int, d time.Duration) []int16 {
	n := int(d.Seconds() * float64(sampleRate))
	return make([]int16, n)
}

// Probe reads the header chunks of a WAV stream up to the data chunk
func Probe(r io.Reader) (*Info, error) {
	var riff struct {
		ID     [4]byte
		Size   uint32
		Format [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Format[:]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var format *fmtChunk
	for {
		var ch chunkHeader
		if err := binary.Read(r, binary.LittleEndian, &ch); err != nil {
			return nil, fmt.Errorf("missing data chunk: %w", err)
		}

		switch string(ch.ID[:]) {
		case "fmt ":
			if ch.Size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", ch.Size)
			}
			format = &fmtChunk{}
			if err := binary.Read(r, binary.LittleEndian, format); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if err := skip(r, int64(ch.Size-16)+int64(ch.Size%2)); err != nil {
				return nil, err
			}
		case "data":
			if format == nil {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			return newInfo(format, ch.Size), nil
		default:
			if err := skip(r, int64(ch.Size)+int64(ch.Size%2)); err != nil {
				return nil, err
			}
		}
	}
}

// ProbeFile probes the WAV file at path. Recorders that cannot seek back leave
// the data size unset; the size is then taken from the file length.
func ProbeFile(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := Probe(f)
	if err != nil {
		return nil, err
	}

	if info.DataSize == 0 || info.DataSize == 0xFFFFFFFF {
		offset, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return info, nil
		}
		st, err := f.Stat()
		if err != nil {
			return info, nil
		}
		if remaining := st.Size() - offset; remaining > 0 {
			info = newInfo(&fmtChunk{
				SampleRate:    info.SampleRate,
				NumChannels:   info.Channels,
				BitsPerSample: info.BitsPerSample,
			}, uint32(remaining))
		}
	}

	return info, nil
}

func newInfo(f *fmtChunk, dataSize uint32) *Info {
	info := &Info{
		SampleRate:    f.SampleRate,
		Channels:      f.NumChannels,
		BitsPerSample: f.BitsPerSample,
		DataSize:      dataSize,
	}
	bytesPerSecond := uint64(f.SampleRate) * uint64(f.NumChannels) * uint64(f.BitsPerSample) / 8
	if bytesPerSecond > 0 && dataSize != 0xFFFFFFFF {
		info.Duration = time.Duration(uint64(dataSize) * uint64(time.Second) / bytesPerSecond)
	}
	return info
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("truncated WAV header: %w", err)
	}
	return nil
}
