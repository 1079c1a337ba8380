// Package payload builds and parses the 34-byte self-authenticating
// watermark payload shared by every modality engine.
package payload

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	// Magic identifies the payload format ("WM").
	magicHi = 0x57
	magicLo = 0x4d

	modelLen = 16
	ctxLen   = 8
	tagLen   = 4

	preAuthLen = 2 + 4 + modelLen + ctxLen // magic + ts + model + context

	// Bytes is the total wire size of a payload.
	Bytes = preAuthLen + tagLen // 34
	// Bits is Bytes in bits.
	Bits = Bytes * 8 // 272
)

// Payload is the decoded, authenticated content of a watermark.
type Payload struct {
	ModelName     string
	Context       string
	TimestampUnix uint32
}

// Build constructs a 34-byte self-authenticating payload. modelName and
// context are UTF-8 encoded, truncated and zero-padded to their reserved
// field widths. ts defaults to time.Now() when zero.
func Build(modelName, context string, ts time.Time, key []byte) []byte {
	if ts.IsZero() {
		ts = time.Now()
	}
	tsInt := uint32(ts.Unix())

	modelB := fixedField([]byte(modelName), modelLen)
	ctxB := fixedField([]byte(context), ctxLen)

	preAuth := make([]byte, 0, preAuthLen)
	preAuth = append(preAuth, magicHi, magicLo)
	var tsBuf [4]byte
	binary.BigEndian.PutUint32(tsBuf[:], tsInt)
	preAuth = append(preAuth, tsBuf[:]...)
	preAuth = append(preAuth, modelB...)
	preAuth = append(preAuth, ctxB...)

	tag := authTag(key, preAuth)
	return append(preAuth, tag...)
}

// Parse authenticates and decodes a payload. ok is false when the magic
// header or HMAC tag does not match — a corrupted, foreign, or wrong-key
// watermark — which is not itself an error condition for callers (see
// the dispatcher's tamper/no-watermark distinction).
func Parse(raw []byte, key []byte) (p Payload, ok bool) {
	if len(raw) < Bytes {
		return Payload{}, false
	}
	raw = raw[:Bytes]

	if raw[0] != magicHi || raw[1] != magicLo {
		return Payload{}, false
	}

	preAuth := raw[:preAuthLen]
	claimedTag := raw[preAuthLen : preAuthLen+tagLen]
	expectedTag := authTag(key, preAuth)

	if !hmac.Equal(claimedTag, expectedTag) {
		return Payload{}, false
	}

	tsInt := binary.BigEndian.Uint32(raw[2:6])
	model := trimField(raw[6 : 6+modelLen])
	ctx := trimField(raw[6+modelLen : 6+modelLen+ctxLen])

	return Payload{ModelName: model, Context: ctx, TimestampUnix: tsInt}, true
}

// DeriveWMID reconstructs the watermark ID purely from payload fields and
// key: SHA256(K || ts_be32 || model_padded_16). Because this formula is
// used identically at embed time and at verify time, verification never
// needs a registry round-trip to report the same ID that embedding
// returned.
func DeriveWMID(modelName string, timestampUnix uint32, key []byte) string {
	var tsBuf [4]byte
	binary.BigEndian.PutUint32(tsBuf[:], timestampUnix)
	modelB := fixedField([]byte(modelName), modelLen)

	h := sha256.New()
	h.Write(key)
	h.Write(tsBuf[:])
	h.Write(modelB)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ToBits unpacks bytes into a slice of 0/1 ints, most-significant-bit first.
func ToBits(data []byte) []int {
	bits := make([]int, 0, len(data)*8)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bits = append(bits, int((b>>uint(i))&1))
		}
	}
	return bits
}

// FromBits packs a slice of 0/1 ints (MSB first) into bytes, zero-padding
// to the next multiple of 8.
func FromBits(bits []int) []byte {
	padded := make([]int, len(bits))
	copy(padded, bits)
	for len(padded)%8 != 0 {
		padded = append(padded, 0)
	}
	out := make([]byte, len(padded)/8)
	for i := 0; i < len(padded); i += 8 {
		var b byte
		for j := 0; j < 8; j++ {
			b |= byte(padded[i+j]) << uint(7-j)
		}
		out[i/8] = b
	}
	return out
}

func authTag(key, preAuth []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(preAuth)
	return mac.Sum(nil)[:tagLen]
}

func fixedField(s []byte, width int) []byte {
	out := make([]byte, width)
	copy(out, s)
	return out
}

func trimField(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
