package audio

import "testing"

func TestRoundTripWithinQuantizationTolerance(t *testing.T) {
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000}
	for _, s := range samples {
		got := DecodeSample(EncodeSample(s))
		diff := int32(got) - int32(s)
		if diff < 0 {
			diff = -diff
		}
		// mu-law quantization error grows with magnitude; the step size at
		// full scale is 2^8, so anything within that bound is a faithful trip.
		tolerance := int32(s)
		if tolerance < 0 {
			tolerance = -tolerance
		}
		tolerance = tolerance/16 + 16
		if diff > tolerance {
			t.Fatalf("sample %d decoded to %d, error %d exceeds tolerance %d", s, got, diff, tolerance)
		}
	}
}

func TestEncodeDecodeStability(t *testing.T) {
	// Decoding a code and re-encoding it must land on a code that decodes to
	// the same sample. Codes 0x7F and 0xFF both decode to zero, so byte-level
	// equality cannot hold for those two; sample-level equality must.
	for i := 0; i < 256; i++ {
		b := byte(i)
		want := DecodeSample(b)
		got := DecodeSample(EncodeSample(want))
		if got != want {
			t.Fatalf("byte 0x%02X: decoded %d, round-tripped to %d", b, want, got)
		}
	}
}

func TestByteHelpers(t *testing.T) {
	frame := make([]byte, FrameSamples)
	for i := range frame {
		frame[i] = byte(i % 256)
	}
	pcm := DecodeToBytes(frame)
	if len(pcm) != FrameSamples*2 {
		t.Fatalf("expected %d pcm bytes, got %d", FrameSamples*2, len(pcm))
	}
	back := EncodeFromBytes(pcm)
	if len(back) != FrameSamples {
		t.Fatalf("expected %d mulaw bytes, got %d", FrameSamples, len(back))
	}
	for i := range frame {
		if DecodeSample(back[i]) != DecodeSample(frame[i]) {
			t.Fatalf("byte %d: 0x%02X and 0x%02X decode differently", i, back[i], frame[i])
		}
	}
}

func TestSilence(t *testing.T) {
	s := Silence(2)
	if len(s) != 2*FrameSamples {
		t.Fatalf("expected %d bytes, got %d", 2*FrameSamples, len(s))
	}
	for _, b := range s {
		if b != 0xFF {
			t.Fatalf("expected mu-law silence byte 0xFF, got 0x%02X", b)
		}
	}
}
