// Package imageengine implements the image watermark: a mid-band DCT
// statistical layer on the luma plane, a tiled multi-copy QIM payload
// layer (crop/shift-tolerant at verify time), and PNG tEXt metadata as a
// third, cheapest-checked-first layer.
package imageengine

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"time"

	"github.com/aegiswm/watermark/internal/container/pngtext"
	"github.com/aegiswm/watermark/internal/dsp"
	"github.com/aegiswm/watermark/internal/modality"
	"github.com/aegiswm/watermark/internal/payload"
	"github.com/aegiswm/watermark/internal/wmcrypto"
)

const (
	qimStep      = 48.0
	uQIM, vQIM   = 3, 3
	blockSize    = 8
	tileRows     = 18
	tileCols     = 17
	tilePositions = tileRows * tileCols // 306
	corrThreshold = 0.04
)

// Engine implements modality.Engine for PNG-encoded images.
type Engine struct{}

func New() *Engine { return &Engine{} }

type planes struct {
	H, W int
	Y    [][]float64
	Cb   [][]float64
	Cr   [][]float64
	A    []uint8 // alpha, row-major, may be nil
}

func toYCbCr(img image.Image) *planes {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	p := &planes{H: h, W: w}
	p.Y = make([][]float64, h)
	p.Cb = make([][]float64, h)
	p.Cr = make([][]float64, h)
	p.A = make([]uint8, h*w)
	for y := 0; y < h; y++ {
		p.Y[y] = make([]float64, w)
		p.Cb[y] = make([]float64, w)
		p.Cr[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			rf, gf, bf := float64(r>>8), float64(g>>8), float64(bl>>8)
			p.Y[y][x] = 0.299*rf + 0.587*gf + 0.114*bf
			p.Cb[y][x] = -0.168736*rf - 0.331264*gf + 0.5*bf + 128
			p.Cr[y][x] = 0.5*rf - 0.418688*gf - 0.081312*bf + 128
			p.A[y*w+x] = uint8(a >> 8)
		}
	}
	return p
}

func (p *planes) toRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.W, p.H))
	for y := 0; y < p.H; y++ {
		for x := 0; x < p.W; x++ {
			yy := p.Y[y][x]
			cb := p.Cb[y][x] - 128
			cr := p.Cr[y][x] - 128
			r := dsp.ClipUint8(yy + 1.402*cr)
			g := dsp.ClipUint8(yy - 0.344136*cb - 0.714136*cr)
			bl := dsp.ClipUint8(yy + 1.772*cb)
			a := p.A[y*p.W+x]
			img.Set(x, y, color.NRGBA{R: r, G: g, B: bl, A: a})
		}
	}
	return img
}

func dctMask(key []byte, h, w int) [][]float64 {
	r := wmcrypto.NewKeyedRand(key, []byte("image_dct"))
	mask := make([][]float64, h)
	for i := 0; i < h; i++ {
		mask[i] = make([]float64, w)
		for j := 0; j < w; j++ {
			if r.Intn(2) == 0 {
				mask[i][j] = -1.0
			} else {
				mask[i][j] = 1.0
			}
		}
	}
	return mask
}

// tileMap returns the keyed shuffle of [0,300) positions; bitToLoc[bit] is
// the tile location (0..299) carrying that payload bit for bit < 272.
func tileMap(key []byte) []int {
	r := wmcrypto.NewKeyedRand(key, []byte("tile_map"))
	positions := r.Perm(300)
	return positions[:payload.Bits]
}

func getBlock(plane [][]float64, row, col int) [][]float64 {
	block := make([][]float64, blockSize)
	for i := 0; i < blockSize; i++ {
		block[i] = make([]float64, blockSize)
		copy(block[i], plane[row+i][col:col+blockSize])
	}
	return block
}

func setBlock(plane [][]float64, row, col int, block [][]float64) {
	for i := 0; i < blockSize; i++ {
		copy(plane[row+i][col:col+blockSize], block[i])
	}
}

func embedDCTStatistical(y [][]float64, mask [][]float64, alpha float64) int {
	h, w := len(y), len(y[0])
	blocks := 0
	for row := 0; row+blockSize <= h; row += blockSize {
		for col := 0; col+blockSize <= w; col += blockSize {
			block := getBlock(y, row, col)
			c := dsp.DCT2(block)
			for u := 1; u < 5; u++ {
				for v := 1; v < 5; v++ {
					c[u][v] += alpha * mask[row+u][col+v]
				}
			}
			inv := dsp.IDCT2(c)
			for i := range inv {
				for j := range inv[i] {
					inv[i][j] = clipFloat(inv[i][j])
				}
			}
			setBlock(y, row, col, inv)
			blocks++
		}
	}
	return blocks
}

func clipFloat(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return x
}

func embedQIMTiled(y [][]float64, bits []int, bitToLoc []int) {
	locToBit := make(map[int]int, len(bitToLoc))
	for bitIdx, loc := range bitToLoc {
		locToBit[loc] = bits[bitIdx]
	}
	h, w := len(y), len(y[0])
	nbH, nbW := h/blockSize, w/blockSize
	for br := 0; br < nbH; br++ {
		for bc := 0; bc < nbW; bc++ {
			loc := (br%tileRows)*tileCols + (bc % tileCols)
			bit, ok := locToBit[loc]
			if !ok {
				continue
			}
			row, col := br*blockSize, bc*blockSize
			block := getBlock(y, row, col)
			c := dsp.DCT2(block)
			q := int(dsp.RoundHalfAwayFromZero(c[uQIM][vQIM] / qimStep))
			if mod2(q) != bit {
				if bit == 1 {
					q++
				} else {
					q--
				}
			}
			c[uQIM][vQIM] = float64(q) * qimStep
			inv := dsp.IDCT2(c)
			for i := range inv {
				for j := range inv[i] {
					inv[i][j] = clipFloat(inv[i][j])
				}
			}
			setBlock(y, row, col, inv)
		}
	}
}

func mod2(q int) int {
	m := q % 2
	if m < 0 {
		m += 2
	}
	return m
}

// Embed applies the DCT statistical layer then the tiled QIM payload
// layer to the Y plane (statistical must precede payload so its
// perturbation doesn't undo the QIM parity decision), then writes the
// payload as PNG tEXt metadata under WM_PAYLOAD and Keywords.
func (e *Engine) Embed(_ context.Context, data []byte, params modality.EmbedParams) ([]byte, string, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imageengine: decode PNG: %w", err)
	}
	p := toYCbCr(img)

	alpha := params.WatermarkStrength * 10
	mask := dctMask(params.Key, p.H, p.W)
	embedDCTStatistical(p.Y, mask, alpha)

	ts := time.Now()
	raw := payload.Build(params.ModelName, params.Context, ts, params.Key)
	bits := payload.ToBits(raw)
	bitToLoc := tileMap(params.Key)
	embedQIMTiled(p.Y, bits, bitToLoc)

	out := p.toRGBA()
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, "", fmt.Errorf("imageengine: encode PNG: %w", err)
	}

	texts := map[string]string{
		"WM_PAYLOAD": hex.EncodeToString(raw),
		"Keywords":   bitsToZW(bits),
	}
	final, err := pngtext.InsertText(buf.Bytes(), []string{"WM_PAYLOAD", "Keywords"}, texts)
	if err != nil {
		return nil, "", fmt.Errorf("imageengine: insert metadata: %w", err)
	}

	wmID := payload.DeriveWMID(params.ModelName, uint32(ts.Unix()), params.Key)
	return final, wmID, nil
}

func bitsToZW(bits []int) string {
	var sb []rune
	for i := 0; i < len(bits); i += 2 {
		b0 := bits[i]
		b1 := 0
		if i+1 < len(bits) {
			b1 = bits[i+1]
		}
		sb = append(sb, zwAlphabet[[2]int{b0, b1}])
	}
	return string(sb)
}

var zwAlphabet = map[[2]int]rune{
	{0, 0}: '​',
	{0, 1}: '‌',
	{1, 0}: '‍',
	{1, 1}: '⁠',
}

var zwReverse = func() map[rune][2]int {
	m := make(map[rune][2]int, len(zwAlphabet))
	for k, v := range zwAlphabet {
		m[v] = k
	}
	return m
}()

// Verify checks, cheapest first: PNG tEXt metadata (WM_PAYLOAD, then
// Keywords), the DCT statistical correlation, and finally the
// crop/shift-tolerant tiled QIM search.
func (e *Engine) Verify(_ context.Context, data []byte, key []byte) (modality.Result, error) {
	texts, err := pngtext.ReadText(data)
	if err != nil {
		return modality.Result{}, fmt.Errorf("imageengine: read metadata: %w", err)
	}

	result := modality.Result{}

	if hexVal, ok := texts["WM_PAYLOAD"]; ok && hexVal != "" {
		if raw, err := hex.DecodeString(hexVal); err == nil {
			if p, ok := payload.Parse(raw, key); ok {
				fillFromPayload(&result, p, key, modality.SourceImageMetadata)
			}
		}
	}
	if !result.SignatureValid {
		if kw, ok := texts["Keywords"]; ok && kw != "" {
			bits := zwDecodeString(kw)
			if len(bits) >= payload.Bits {
				raw := payload.FromBits(bits[:payload.Bits])
				if p, ok := payload.Parse(raw, key); ok {
					fillFromPayload(&result, p, key, modality.SourceImageKeywords)
				}
			}
		}
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return modality.Result{}, fmt.Errorf("imageengine: decode PNG: %w", err)
	}
	p := toYCbCr(img)
	mask := dctMask(key, p.H, p.W)

	var extracted, maskVals []float64
	for row := 0; row+blockSize <= p.H; row += blockSize {
		for col := 0; col+blockSize <= p.W; col += blockSize {
			block := getBlock(p.Y, row, col)
			c := dsp.DCT2(block)
			for u := 1; u < 5; u++ {
				for v := 1; v < 5; v++ {
					extracted = append(extracted, c[u][v])
					maskVals = append(maskVals, mask[row+u][col+v])
				}
			}
		}
	}
	rho := pearson(extracted, maskVals)
	statDetected := rho > corrThreshold
	statConf := clampUnit((rho - corrThreshold) / math.Max(1-corrThreshold, 0.01))
	result.StatisticalScore = rho

	if !result.SignatureValid {
		bitToLoc := tileMap(key)
		if p, ok := extractQIMTiledSearch(p.Y, bitToLoc, key); ok {
			fillFromPayload(&result, p, key, modality.SourceImageQIM)
		}
	}

	stegConf := 0.0
	if result.SignatureValid {
		stegConf = 0.9
	}
	result.Confidence = math.Max(statConf, stegConf)
	result.Detected = statDetected || result.SignatureValid
	return result, nil
}

func fillFromPayload(result *modality.Result, p payload.Payload, key []byte, src modality.Source) {
	result.SignatureValid = true
	result.ModelName = p.ModelName
	result.Context = p.Context
	result.TimestampUnix = p.TimestampUnix
	result.HasTimestamp = true
	result.WMID = payload.DeriveWMID(p.ModelName, p.TimestampUnix, key)
	result.Source = src
}

func zwDecodeString(s string) []int {
	var bits []int
	for _, r := range s {
		if pair, ok := zwReverse[r]; ok {
			bits = append(bits, pair[0], pair[1])
		}
	}
	return bits
}

func pearson(a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA < 1e-18 || varB < 1e-18 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func clampUnit(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// extractQIMTiledSearch performs the crop/shift-tolerant tiled QIM search
// described in spec §4.4 layer C: crop to a central 512×512 region, try
// all 64 (dy,dx) block offsets, and for each build an 18×17 vote matrix
// that is then tested against all 18×17 rotations of the tile map until
// one yields a valid HMAC.
func extractQIMTiledSearch(y [][]float64, bitToLoc []int, key []byte) (payload.Payload, bool) {
	h, w := len(y), len(y[0])
	hSearch, wSearch := h, w
	if hSearch > 512 {
		hSearch = 512
	}
	if wSearch > 512 {
		wSearch = 512
	}
	cy, cx := h/2, w/2
	rStart := cy - hSearch/2
	if rStart < 0 {
		rStart = 0
	}
	cStart := cx - wSearch/2
	if cStart < 0 {
		cStart = 0
	}

	ch := hSearch
	cw := wSearch

	type shift struct{ dy, dx int }
	shifts := []shift{{0, 0}}
	for dy := 0; dy < 8; dy++ {
		for dx := 0; dx < 8; dx++ {
			if dy == 0 && dx == 0 {
				continue
			}
			shifts = append(shifts, shift{dy, dx})
		}
	}

	for _, s := range shifts {
		nbH := (ch - s.dy) / blockSize
		nbW := (cw - s.dx) / blockSize
		if nbH < 1 || nbW < 1 {
			continue
		}
		var voteMatrix [tileRows][tileCols][2]int
		for br := 0; br < nbH; br++ {
			for bc := 0; bc < nbW; bc++ {
				row := rStart + s.dy + br*blockSize
				col := cStart + s.dx + bc*blockSize
				block := getBlock(y, row, col)
				c := dsp.DCT2(block)
				q := int(dsp.RoundHalfAwayFromZero(c[uQIM][vQIM] / qimStep))
				voteMatrix[br%tileRows][bc%tileCols][mod2(absInt(q))]++
			}
		}

		for sy := 0; sy < tileRows; sy++ {
			for sx := 0; sx < tileCols; sx++ {
				votedBits := make([]int, payload.Bits)
				for bitIdx := 0; bitIdx < payload.Bits; bitIdx++ {
					loc := bitToLoc[bitIdx]
					r := (loc/tileCols + sy) % tileRows
					c := (loc%tileCols + sx) % tileCols
					v0, v1 := voteMatrix[r][c][0], voteMatrix[r][c][1]
					if v1 > v0 {
						votedBits[bitIdx] = 1
					}
				}
				if p, ok := payload.Parse(payload.FromBits(votedBits), key); ok {
					return p, true
				}
			}
		}
	}
	return payload.Payload{}, false
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
