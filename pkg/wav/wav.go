// Package wav encodes and decodes mono 16-bit PCM audio as RIFF/WAVE,
// the on-wire format the robot's /audio endpoint accepts.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultSampleRate is the sample rate used by the realtime conversation
// pipeline end to end.
const DefaultSampleRate = 24000

const headerSize = 44

var (
	// ErrTooShort indicates the data is smaller than a WAV header.
	ErrTooShort = errors.New("wav: data shorter than WAV header")

	// ErrBadHeader indicates the RIFF/WAVE header is malformed.
	ErrBadHeader = errors.New("wav: malformed RIFF/WAVE header")
)

// Info describes a decoded WAV stream.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	SampleCount   int
}

// Encode packs PCM16 samples into a WAV container: standard 44-byte
// RIFF/WAVE header, PCM format, mono, 16 bits/sample, little-endian data.
func Encode(samples []int16, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	dataLen := len(samples) * 2
	buf := make([]byte, headerSize+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // fmt chunk length
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(s))
	}

	return buf
}

// Decode parses a WAV container produced by Encode, recovering the
// stream info and the raw PCM16 samples.
func Decode(data []byte) (Info, []int16, error) {
	if len(data) < headerSize {
		return Info{}, nil, ErrTooShort
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, nil, ErrBadHeader
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return Info{}, nil, ErrBadHeader
	}

	format := binary.LittleEndian.Uint16(data[20:22])
	if format != 1 {
		return Info{}, nil, fmt.Errorf("%w: unsupported format %d", ErrBadHeader, format)
	}

	info := Info{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
	}

	dataLen := int(binary.LittleEndian.Uint32(data[40:44]))
	if headerSize+dataLen > len(data) {
		return Info{}, nil, fmt.Errorf("%w: data chunk length %d exceeds payload", ErrBadHeader, dataLen)
	}

	samples := BytesToSamples(data[headerSize : headerSize+dataLen])
	info.SampleCount = len(samples)

	return info, samples, nil
}

// BytesToSamples converts little-endian PCM16 bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// SamplesToFloat32 normalizes PCM16 samples to [-1, 1) floats.
func SamplesToFloat32(samples []int16) []float32 {
	result := make([]float32, len(samples))
	for i, s := range samples {
		result[i] = float32(s) / 32768.0
	}
	return result
}

// Float32ToSamples converts normalized floats back to PCM16, clamping
// out-of-range values.
func Float32ToSamples(samples []float32) []int16 {
	result := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		result[i] = int16(s * 32767.0)
	}
	return result
}

// Resample converts samples from srcRate to dstRate using linear interpolation.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(dstRate) / float64(srcRate)
	newLen := int(float64(len(samples)) * ratio)
	result := make([]int16, newLen)

	for i := 0; i < newLen; i++ {
		srcIdx := float64(i) / ratio
		idx := int(srcIdx)
		if idx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			frac := srcIdx - float64(idx)
			result[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
		}
	}

	return result
}
