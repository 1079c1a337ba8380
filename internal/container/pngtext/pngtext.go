// Package pngtext reads and writes PNG tEXt chunks. It exists because
// Go's standard image/png encoder/decoder has no public API for arbitrary
// text chunk keys such as WM_PAYLOAD — this is exactly the kind of binary
// container plumbing the watermarking spec calls out as a thin, scoped-out
// collaborator, so it is implemented directly on the standard library
// (hash/crc32, bytes) rather than pulling in a third-party PNG chunk
// library that no example in the corpus depends on.
package pngtext

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

type chunk struct {
	typ  [4]byte
	data []byte
}

func parseChunks(data []byte) ([]chunk, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], pngSignature) {
		return nil, fmt.Errorf("pngtext: not a PNG file")
	}
	pos := 8
	var chunks []chunk
	for pos+8 <= len(data) {
		length := binary.BigEndian.Uint32(data[pos : pos+4])
		var typ [4]byte
		copy(typ[:], data[pos+4:pos+8])
		start := pos + 8
		end := start + int(length)
		if end+4 > len(data) {
			return nil, fmt.Errorf("pngtext: truncated chunk %s", typ)
		}
		chunks = append(chunks, chunk{typ: typ, data: append([]byte(nil), data[start:end]...)})
		pos = end + 4 // skip CRC
		if string(typ[:]) == "IEND" {
			break
		}
	}
	return chunks, nil
}

func writeChunks(chunks []chunk) []byte {
	var buf bytes.Buffer
	buf.Write(pngSignature)
	for _, c := range chunks {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(c.data)))
		buf.Write(lenBuf[:])
		buf.Write(c.typ[:])
		buf.Write(c.data)
		crc := crc32.NewIEEE()
		crc.Write(c.typ[:])
		crc.Write(c.data)
		var crcBuf [4]byte
		binary.BigEndian.PutUint32(crcBuf[:], crc.Sum32())
		buf.Write(crcBuf[:])
	}
	return buf.Bytes()
}

// ReadText extracts all tEXt chunk keyword/text pairs from a PNG byte
// stream.
func ReadText(data []byte) (map[string]string, error) {
	chunks, err := parseChunks(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, c := range chunks {
		if string(c.typ[:]) != "tEXt" {
			continue
		}
		idx := bytes.IndexByte(c.data, 0)
		if idx < 0 {
			continue
		}
		out[string(c.data[:idx])] = string(c.data[idx+1:])
	}
	return out, nil
}

// InsertText returns a new PNG byte stream with the given keyword/text
// pairs added as tEXt chunks immediately before IEND, in sorted-by-caller
// iteration order (callers pass keys explicitly to keep output
// deterministic).
func InsertText(data []byte, keys []string, texts map[string]string) ([]byte, error) {
	chunks, err := parseChunks(data)
	if err != nil {
		return nil, err
	}
	var newText []chunk
	for _, k := range keys {
		v, ok := texts[k]
		if !ok {
			continue
		}
		payload := append([]byte(k), 0)
		payload = append(payload, []byte(v)...)
		var typ [4]byte
		copy(typ[:], "tEXt")
		newText = append(newText, chunk{typ: typ, data: payload})
	}

	out := make([]chunk, 0, len(chunks)+len(newText))
	for _, c := range chunks {
		if string(c.typ[:]) == "IEND" {
			out = append(out, newText...)
		}
		out = append(out, c)
	}
	return writeChunks(out), nil
}
