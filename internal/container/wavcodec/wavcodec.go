// Package wavcodec decodes and encodes PCM WAV audio. No WAV library
// appears anywhere in the reference corpus, and the watermarking spec
// itself names WAV container I/O as out-of-core codec plumbing, so this
// is a deliberately minimal reader/writer built on encoding/binary
// rather than a fabricated or pulled-in dependency.
package wavcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Params mirrors the handful of WAV header fields the engines need.
type Params struct {
	NumChannels   int
	SampleRate    int
	BitsPerSample int // 8, 16, or 32
}

// Audio is a decoded WAV file: interleaved samples as float64 for
// processing headroom, plus the params needed to re-encode losslessly.
type Audio struct {
	Params  Params
	Samples []float64 // interleaved, length = frames * NumChannels
}

// Decode parses a PCM WAV byte stream.
func Decode(data []byte) (*Audio, error) {
	r := bytes.NewReader(data)
	var riffHdr [12]byte
	if _, err := r.Read(riffHdr[:]); err != nil {
		return nil, fmt.Errorf("wavcodec: read RIFF header: %w", err)
	}
	if string(riffHdr[0:4]) != "RIFF" || string(riffHdr[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wavcodec: not a RIFF/WAVE file")
	}

	var params Params
	var pcmData []byte

	for {
		var chunkID [4]byte
		var chunkSize uint32
		if _, err := r.Read(chunkID[:]); err != nil {
			break
		}
		if err := binary.Read(r, binary.LittleEndian, &chunkSize); err != nil {
			break
		}
		body := make([]byte, chunkSize)
		if _, err := r.Read(body); err != nil {
			return nil, fmt.Errorf("wavcodec: read chunk %s: %w", chunkID, err)
		}
		if chunkSize%2 == 1 {
			r.Seek(1, 1) // chunks are word-aligned
		}

		switch string(chunkID[:]) {
		case "fmt ":
			if len(body) < 16 {
				return nil, fmt.Errorf("wavcodec: fmt chunk too short")
			}
			params.NumChannels = int(binary.LittleEndian.Uint16(body[2:4]))
			params.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			params.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
		case "data":
			pcmData = body
		}
	}

	if params.NumChannels == 0 || pcmData == nil {
		return nil, fmt.Errorf("wavcodec: missing fmt or data chunk")
	}

	samples, err := decodeSamples(pcmData, params.BitsPerSample)
	if err != nil {
		return nil, err
	}
	return &Audio{Params: params, Samples: samples}, nil
}

func decodeSamples(data []byte, bitsPerSample int) ([]float64, error) {
	switch bitsPerSample {
	case 8:
		out := make([]float64, len(data))
		for i, b := range data {
			out[i] = float64(int8(b)) // matches numpy's signed int8 view
		}
		return out, nil
	case 16:
		n := len(data) / 2
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
			out[i] = float64(v)
		}
		return out, nil
	case 32:
		n := len(data) / 4
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("wavcodec: unsupported sample width %d bits", bitsPerSample)
	}
}

// SampleRange returns the [min,max] representable integer values for the
// audio's bit depth, used by the audio engine to saturate watermarked
// samples back into range.
func (a *Audio) SampleRange() (min, max float64) {
	switch a.Params.BitsPerSample {
	case 8:
		return -128, 127
	case 16:
		return -32768, 32767
	case 32:
		return -2147483648, 2147483647
	default:
		return -32768, 32767
	}
}

// Encode writes samples back out as a PCM WAV byte stream using the
// original params.
func Encode(a *Audio) ([]byte, error) {
	var pcm bytes.Buffer
	switch a.Params.BitsPerSample {
	case 8:
		for _, s := range a.Samples {
			pcm.WriteByte(byte(int8(s)))
		}
	case 16:
		for _, s := range a.Samples {
			var buf [2]byte
			binary.LittleEndian.PutUint16(buf[:], uint16(int16(s)))
			pcm.Write(buf[:])
		}
	case 32:
		for _, s := range a.Samples {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(int32(s)))
			pcm.Write(buf[:])
		}
	default:
		return nil, fmt.Errorf("wavcodec: unsupported sample width %d bits", a.Params.BitsPerSample)
	}

	dataBytes := pcm.Bytes()
	byteRate := a.Params.SampleRate * a.Params.NumChannels * (a.Params.BitsPerSample / 8)
	blockAlign := a.Params.NumChannels * (a.Params.BitsPerSample / 8)

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(36+len(dataBytes)))
	out.WriteString("WAVE")

	out.WriteString("fmt ")
	binary.Write(&out, binary.LittleEndian, uint32(16))
	binary.Write(&out, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&out, binary.LittleEndian, uint16(a.Params.NumChannels))
	binary.Write(&out, binary.LittleEndian, uint32(a.Params.SampleRate))
	binary.Write(&out, binary.LittleEndian, uint32(byteRate))
	binary.Write(&out, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&out, binary.LittleEndian, uint16(a.Params.BitsPerSample))

	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(len(dataBytes)))
	out.Write(dataBytes)

	return out.Bytes(), nil
}
