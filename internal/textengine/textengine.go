// Package textengine implements the KGW green-token statistical watermark
// plus the redundant carrier-word zero-width steganography layer for plain
// text content.
package textengine

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"math"
	"strings"
	"time"

	"github.com/aegiswm/watermark/internal/modality"
	"github.com/aegiswm/watermark/internal/payload"
	"github.com/aegiswm/watermark/internal/wmcrypto"
)

const (
	vocabSize     = 50_000
	greenFraction = 0.5
	redundancy    = 5
	zThreshold    = 1.5
	trimCutset    = ".,!?;:\"'()[]{}\n\r\t"
)

// zwEncode maps a 2-bit pair to one of the four invisible code points.
var zwEncode = map[[2]int]rune{
	{0, 0}: '​',
	{0, 1}: '‌',
	{1, 0}: '‍',
	{1, 1}: '⁠',
}

var zwDecode = map[rune][2]int{
	'​': {0, 0},
	'‌': {0, 1},
	'‍': {1, 0},
	'⁠': {1, 1},
}

func isZW(r rune) bool {
	_, ok := zwDecode[r]
	return ok
}

// Engine implements modality.Engine for plain UTF-8 text.
type Engine struct{}

func New() *Engine { return &Engine{} }

func clean(word string) string {
	return strings.ToLower(strings.Trim(word, trimCutset))
}

func wordToTokenID(word string) uint32 {
	sum := md5.Sum([]byte(clean(word)))
	v := uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])
	return v % vocabSize
}

func buildGreenSet(key []byte) map[uint32]struct{} {
	r := wmcrypto.NewKeyedRand(key, []byte{})
	perm := r.Perm(vocabSize)
	n := int(vocabSize * greenFraction)
	set := make(map[uint32]struct{}, n)
	for _, v := range perm[:n] {
		set[uint32(v)] = struct{}{}
	}
	return set
}

func isCarrier(word string, key []byte) bool {
	c := clean(word)
	if c == "" {
		return false
	}
	h := sha256.New()
	h.Write(key)
	h.Write([]byte("\x00carrier\x00"))
	h.Write([]byte(c))
	sum := h.Sum(nil)
	return sum[0]&1 == 1
}

func carrierCopy(word string, key []byte) int {
	c := clean(word)
	h := sha256.New()
	h.Write(key)
	h.Write([]byte("\x00copy\x00"))
	h.Write([]byte(c))
	sum := h.Sum(nil)
	return int(sum[0]) % redundancy
}

func splitToken(token string) (base string, zws []rune) {
	for _, r := range token {
		if isZW(r) {
			zws = append(zws, r)
		} else {
			base += string(r)
		}
	}
	return base, zws
}

// Embed applies the statistical layer (read-only, reported in caller
// metadata only implicitly via verify) and the redundant carrier
// steganography layer, returning the watermarked text.
func (e *Engine) Embed(_ context.Context, data []byte, params modality.EmbedParams) ([]byte, string, error) {
	text := string(data)
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return data, "", nil
	}

	ts := time.Now()
	payloadBits := payload.ToBits(payload.Build(params.ModelName, params.Context, ts, params.Key))
	wmID := payload.DeriveWMID(params.ModelName, uint32(ts.Unix()), params.Key)

	allCarriers := make([]int, 0, len(tokens))
	for i, t := range tokens {
		if isCarrier(t, params.Key) {
			allCarriers = append(allCarriers, i)
		}
	}
	if len(allCarriers) == 0 {
		allCarriers = make([]int, len(tokens))
		for i := range tokens {
			allCarriers[i] = i
		}
	}

	copyCarriers := make([][]int, redundancy)
	for _, ci := range allCarriers {
		r := carrierCopy(tokens[ci], params.Key)
		copyCarriers[r] = append(copyCarriers[r], ci)
	}

	out := make([]string, len(tokens))
	copy(out, tokens)

	totalZW := (payload.Bits + 1) / 2 // 136
	for r := 0; r < redundancy; r++ {
		ccl := copyCarriers[r]
		if len(ccl) == 0 {
			continue
		}
		zwPerWord := ceilDiv(totalZW, len(ccl))
		if zwPerWord < 1 {
			zwPerWord = 1
		}
		bitI := 0
		for _, ci := range ccl {
			var sb strings.Builder
			for k := 0; k < zwPerWord; k++ {
				if bitI+1 < payload.Bits {
					sb.WriteRune(zwEncode[[2]int{payloadBits[bitI], payloadBits[bitI+1]}])
					bitI += 2
				} else if bitI < payload.Bits {
					sb.WriteRune(zwEncode[[2]int{payloadBits[bitI], 0}])
					bitI += 2
				}
			}
			if sb.Len() > 0 {
				out[ci] = tokens[ci] + sb.String()
			}
		}
	}

	return []byte(strings.Join(out, " ")), wmID, nil
}

// Verify computes the Z-score statistical signal and decodes the redundant
// carrier layer via majority vote across complete copies.
func (e *Engine) Verify(_ context.Context, data []byte, key []byte) (modality.Result, error) {
	text := string(data)

	var cleanBuilder strings.Builder
	for _, r := range text {
		if !isZW(r) {
			cleanBuilder.WriteRune(r)
		}
	}
	tokens := strings.Fields(cleanBuilder.String())
	n := len(tokens)
	if n == 0 {
		return modality.Result{}, nil
	}

	greenSet := buildGreenSet(key)
	gamma := greenFraction
	greenCount := 0
	for _, t := range tokens {
		if _, ok := greenSet[wordToTokenID(t)]; ok {
			greenCount++
		}
	}
	eG := float64(n) * gamma
	sigmaG := math.Sqrt(float64(n) * gamma * (1 - gamma))
	if sigmaG < 1e-9 {
		sigmaG = 1e-9
	}
	z := (float64(greenCount) - eG) / sigmaG
	statConf := 1 / (1 + math.Exp(-(z - zThreshold)))

	copyBits := make([][]int, redundancy)
	for _, rawToken := range strings.Fields(text) {
		base, zws := splitToken(rawToken)
		if len(zws) > 0 && isCarrier(base, key) {
			r := carrierCopy(base, key)
			for _, ch := range zws {
				pair := zwDecode[ch]
				copyBits[r] = append(copyBits[r], pair[0], pair[1])
			}
		}
	}

	var complete [][]int
	for _, c := range copyBits {
		if len(c) >= payload.Bits {
			complete = append(complete, c[:payload.Bits])
		}
	}

	result := modality.Result{
		StatisticalScore: z,
	}

	sigValid := false
	if len(complete) > 0 {
		voted := make([]int, payload.Bits)
		for i := 0; i < payload.Bits; i++ {
			sum := 0
			for _, c := range complete {
				sum += c[i]
			}
			if float64(sum) > float64(len(complete))/2 {
				voted[i] = 1
			}
		}
		raw := payload.FromBits(voted)
		p, ok := payload.Parse(raw, key)
		if ok {
			sigValid = true
			result.ModelName = p.ModelName
			result.Context = p.Context
			result.TimestampUnix = p.TimestampUnix
			result.HasTimestamp = true
			result.WMID = payload.DeriveWMID(p.ModelName, p.TimestampUnix, key)
			result.Source = modality.SourceTextCarrier
		}
	}

	stegConf := 0.0
	if sigValid {
		stegConf = 0.9
	}
	result.Confidence = math.Max(statConf, stegConf)
	result.SignatureValid = sigValid
	result.Detected = z > zThreshold || sigValid

	return result, nil
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
