// Package framestream is a lossless raw-frame video container. No Go
// video codec exists anywhere in the reference corpus, and the QIM
// payload layer in the video engine cannot survive any lossy
// recompression (re-quantized DCT coefficients destroy the embedded
// step), so the engine needs a container that round-trips pixels
// byte-for-byte. framestream stores BGR frames back to back, zstd
// compressed, behind a small fixed header — it is not meant to be a
// general-purpose video format, only a private wire format for the
// watermark engine's own embed/verify round trip.
package framestream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
)

var magic = [4]byte{'W', 'M', 'V', 'F'}

const version = 1

// Header describes the frame geometry needed to slice the decompressed
// byte stream back into individual BGR frames.
type Header struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
}

// frameSize returns the byte length of one BGR frame.
func (h Header) frameSize() int {
	return h.Width * h.Height * 3
}

// Encode compresses frames (each a Width*Height*3 BGR byte slice, row
// major) into a single framestream blob.
func Encode(h Header, frames [][]byte) ([]byte, error) {
	fs := h.frameSize()
	for i, f := range frames {
		if len(f) != fs {
			return nil, fmt.Errorf("framestream: frame %d has %d bytes, want %d", i, len(f), fs)
		}
	}

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(version)
	binary.Write(&buf, binary.LittleEndian, uint32(h.Width))
	binary.Write(&buf, binary.LittleEndian, uint32(h.Height))
	binary.Write(&buf, binary.LittleEndian, math.Float64bits(h.FPS))
	binary.Write(&buf, binary.LittleEndian, uint32(len(frames)))

	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("framestream: create zstd writer: %w", err)
	}
	for _, f := range frames {
		if _, err := zw.Write(f); err != nil {
			zw.Close()
			return nil, fmt.Errorf("framestream: write frame: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("framestream: close zstd writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reconstructs the header and frame list from a framestream blob.
func Decode(data []byte) (Header, [][]byte, error) {
	if len(data) < 25 || !bytes.Equal(data[0:4], magic[:]) {
		return Header{}, nil, fmt.Errorf("framestream: bad magic")
	}
	if data[4] != version {
		return Header{}, nil, fmt.Errorf("framestream: unsupported version %d", data[4])
	}
	h := Header{
		Width:      int(binary.LittleEndian.Uint32(data[5:9])),
		Height:     int(binary.LittleEndian.Uint32(data[9:13])),
		FPS:        math.Float64frombits(binary.LittleEndian.Uint64(data[13:21])),
		FrameCount: int(binary.LittleEndian.Uint32(data[21:25])),
	}

	zr, err := zstd.NewReader(bytes.NewReader(data[25:]))
	if err != nil {
		return Header{}, nil, fmt.Errorf("framestream: create zstd reader: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return Header{}, nil, fmt.Errorf("framestream: decompress: %w", err)
	}

	fs := h.frameSize()
	if fs <= 0 {
		return h, nil, nil
	}
	if len(raw) < h.FrameCount*fs {
		return Header{}, nil, fmt.Errorf("framestream: truncated frame data: got %d bytes, want %d", len(raw), h.FrameCount*fs)
	}
	frames := make([][]byte, h.FrameCount)
	for i := 0; i < h.FrameCount; i++ {
		frames[i] = raw[i*fs : (i+1)*fs]
	}
	return h, frames, nil
}
