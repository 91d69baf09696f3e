package wav

import (
	"testing"
)

func TestEncodeHeader(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	data := Encode(samples, 24000)

	if len(data) != 44+len(samples)*2 {
		t.Fatalf("encoded length: got %d, want %d", len(data), 44+len(samples)*2)
	}
	if string(data[0:4]) != "RIFF" {
		t.Errorf("missing RIFF identifier: %q", data[0:4])
	}
	if string(data[8:12]) != "WAVE" {
		t.Errorf("missing WAVE identifier: %q", data[8:12])
	}
	if string(data[36:40]) != "data" {
		t.Errorf("missing data chunk identifier: %q", data[36:40])
	}
}

func TestRoundTrip(t *testing.T) {
	samples := make([]int16, 4800)
	for i := range samples {
		samples[i] = int16(i%200 - 100)
	}

	data := Encode(samples, 24000)
	info, decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if info.SampleRate != 24000 {
		t.Errorf("sample rate: got %d, want 24000", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("channels: got %d, want 1", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("bits per sample: got %d, want 16", info.BitsPerSample)
	}
	if info.SampleCount != len(samples) {
		t.Errorf("sample count: got %d, want %d", info.SampleCount, len(samples))
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded length: got %d, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d: got %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestRoundTripCustomRate(t *testing.T) {
	samples := []int16{1, 2, 3}
	info, _, err := Decode(Encode(samples, 16000))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if info.SampleRate != 16000 {
		t.Errorf("sample rate: got %d, want 16000", info.SampleRate)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		if _, _, err := Decode([]byte{1, 2, 3}); err != ErrTooShort {
			t.Errorf("expected ErrTooShort, got %v", err)
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		data := Encode([]int16{1, 2}, 24000)
		copy(data[0:4], "JUNK")
		if _, _, err := Decode(data); err == nil {
			t.Error("expected error for bad magic")
		}
	})
}

func TestSampleByteConversion(t *testing.T) {
	samples := []int16{-32768, -1, 0, 1, 32767}
	got := BytesToSamples(SamplesToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestFloatConversionClamps(t *testing.T) {
	out := Float32ToSamples([]float32{2.0, -2.0, 0})
	if out[0] != 32767 {
		t.Errorf("positive clamp: got %d, want 32767", out[0])
	}
	if out[1] != -32767 {
		t.Errorf("negative clamp: got %d, want -32767", out[1])
	}
	if out[2] != 0 {
		t.Errorf("zero: got %d, want 0", out[2])
	}
}

func TestResample(t *testing.T) {
	samples := []int16{0, 100, 200, 300}

	t.Run("same rate is identity", func(t *testing.T) {
		got := Resample(samples, 24000, 24000)
		if len(got) != len(samples) {
			t.Fatalf("length changed: %d", len(got))
		}
	})

	t.Run("doubling rate doubles length", func(t *testing.T) {
		got := Resample(samples, 12000, 24000)
		if len(got) != 8 {
			t.Fatalf("length: got %d, want 8", len(got))
		}
	})
}
