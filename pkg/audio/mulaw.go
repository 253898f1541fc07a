// Package audio implements the G.711 mu-law codec used on the telephony leg.
// Telephony media arrives as 8kHz companded bytes in 20ms frames; the codec
// converts to and from 16-bit linear PCM. Pure transform, no I/O.
package audio

const (
	// SampleRate is the narrowband telephony rate.
	SampleRate = 8000
	// FrameSamples is one 20ms frame at 8kHz.
	FrameSamples = 160

	muLawBias = 0x84
	muLawClip = 32635
)

var decodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		decodeTable[i] = decodeByte(byte(i))
	}
}

func decodeByte(b byte) int16 {
	b = ^b
	sign := int16(b & 0x80)
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := (int16(mantissa)<<3 + muLawBias) << exponent
	sample -= muLawBias
	if sign != 0 {
		return -sample
	}
	return sample
}

// EncodeSample compands one 16-bit linear sample to a mu-law byte.
func EncodeSample(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeSample expands one mu-law byte to a 16-bit linear sample.
func DecodeSample(b byte) int16 {
	return decodeTable[b]
}

// Decode expands a companded frame into linear PCM samples.
func Decode(in []byte) []int16 {
	out := make([]int16, len(in))
	for i, b := range in {
		out[i] = decodeTable[b]
	}
	return out
}

// Encode compands linear PCM samples into a mu-law frame.
func Encode(in []int16) []byte {
	out := make([]byte, len(in))
	for i, s := range in {
		out[i] = EncodeSample(s)
	}
	return out
}

// DecodeToBytes expands a companded frame into little-endian 16-bit PCM,
// the layout STT backends consume.
func DecodeToBytes(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		s := decodeTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeFromBytes compands little-endian 16-bit PCM into mu-law bytes.
// Odd trailing bytes are dropped.
func EncodeFromBytes(in []byte) []byte {
	n := len(in) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(in[i*2]) | int16(in[i*2+1])<<8
		out[i] = EncodeSample(s)
	}
	return out
}

// Silence returns n frames' worth of mu-law silence.
func Silence(nFrames int) []byte {
	out := make([]byte, nFrames*FrameSamples)
	for i := range out {
		out[i] = 0xFF
	}
	return out
}
