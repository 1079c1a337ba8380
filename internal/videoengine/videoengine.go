// Package videoengine implements the video watermark: a per-block DCT
// statistical mark on the luma plane of every SAMPLE_EVERY-th frame, plus
// a QIM payload layer on the green BGR channel of PAYLOAD_FRAMES key
// frames. The green channel is used for the payload layer specifically
// because it survives the lossless framestream round trip with zero
// error — the luma/chroma conversion used for the statistical layer does
// not, so it is confined to the layer that only needs a correlation
// signal rather than bit-exact recovery.
package videoengine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aegiswm/watermark/internal/container/framestream"
	"github.com/aegiswm/watermark/internal/dsp"
	"github.com/aegiswm/watermark/internal/modality"
	"github.com/aegiswm/watermark/internal/payload"
	"github.com/aegiswm/watermark/internal/wmcrypto"
)

const (
	sampleEvery   = 10
	payloadFrames = 5
	blockSize     = 8
	qimStep       = 32.0
	corrThreshold = 0.04
)

// Engine implements modality.Engine for framestream-encoded raw video.
// Masks and QIM position tables are expensive to derive and depend only
// on (key, height, width), so they are cached per engine instance across
// calls — mirroring the per-process cache in the source watermarker.
type Engine struct {
	maskCache sync.Map // cacheKey -> [][]float64
	posCache  sync.Map // cacheKey -> []qimPos
}

func New() *Engine { return &Engine{} }

type cacheKey struct {
	key  string
	h, w int
}

type qimPos struct{ row, col, u, v int }

func keyFrameIndices(nFrames int) []int {
	step := nFrames / payloadFrames
	if step < 1 {
		step = 1
	}
	idxs := make([]int, payloadFrames)
	for i := 0; i < payloadFrames; i++ {
		idxs[i] = (i * step) % nFrames
	}
	return idxs
}

func (e *Engine) dctMask(key []byte, h, w int) [][]float64 {
	ck := cacheKey{string(key), h, w}
	if v, ok := e.maskCache.Load(ck); ok {
		return v.([][]float64)
	}
	r := wmcrypto.NewKeyedRand(key, []byte("video_dct"))
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
	e.maskCache.Store(ck, mask)
	return mask
}

// qimPositions derives PAYLOAD_BITS distinct (block-row, block-col, u, v)
// coefficient locations, falling back to non-unique reuse when the frame
// is too small to hold that many distinct positions (16 per 8x8 block).
func (e *Engine) qimPositions(key []byte, h, w int) []qimPos {
	ck := cacheKey{string(key), h, w}
	if v, ok := e.posCache.Load(ck); ok {
		return v.([]qimPos)
	}
	nbH := h / blockSize
	if nbH < 1 {
		nbH = 1
	}
	nbW := w / blockSize
	if nbW < 1 {
		nbW = 1
	}
	r := wmcrypto.NewKeyedRand(key, []byte("video_qim"))
	allowDup := nbH*nbW*16 < payload.Bits

	seen := make(map[qimPos]struct{}, payload.Bits)
	positions := make([]qimPos, 0, payload.Bits)
	for len(positions) < payload.Bits {
		pos := qimPos{row: r.Intn(nbH), col: r.Intn(nbW), u: 1 + r.Intn(4), v: 1 + r.Intn(4)}
		if !allowDup {
			if _, ok := seen[pos]; ok {
				continue
			}
			seen[pos] = struct{}{}
		}
		positions = append(positions, pos)
	}
	e.posCache.Store(ck, positions)
	return positions
}

func bgrToPlanes(frame []byte, w, h int) (y, cr, cb [][]float64) {
	y = make([][]float64, h)
	cr = make([][]float64, h)
	cb = make([][]float64, h)
	for row := 0; row < h; row++ {
		y[row] = make([]float64, w)
		cr[row] = make([]float64, w)
		cb[row] = make([]float64, w)
		for col := 0; col < w; col++ {
			o := (row*w + col) * 3
			bf, gf, rf := float64(frame[o]), float64(frame[o+1]), float64(frame[o+2])
			y[row][col] = 0.299*rf + 0.587*gf + 0.114*bf
			cb[row][col] = -0.168736*rf - 0.331264*gf + 0.5*bf + 128
			cr[row][col] = 0.5*rf - 0.418688*gf - 0.081312*bf + 128
		}
	}
	return
}

func planesToBGR(frame []byte, w, h int, y, cr, cb [][]float64) {
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			yy := y[row][col]
			crv := cr[row][col] - 128
			cbv := cb[row][col] - 128
			o := (row*w + col) * 3
			frame[o] = dsp.ClipUint8(yy + 1.772*cbv)
			frame[o+1] = dsp.ClipUint8(yy - 0.344136*cbv - 0.714136*crv)
			frame[o+2] = dsp.ClipUint8(yy + 1.402*crv)
		}
	}
}

func greenPlane(frame []byte, w, h int) [][]float64 {
	g := make([][]float64, h)
	for row := 0; row < h; row++ {
		g[row] = make([]float64, w)
		for col := 0; col < w; col++ {
			g[row][col] = float64(frame[(row*w+col)*3+1])
		}
	}
	return g
}

func writeGreenPlane(frame []byte, w, h int, g [][]float64) {
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			frame[(row*w+col)*3+1] = dsp.ClipUint8(g[row][col])
		}
	}
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

func clipFloat(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return x
}

func mod2(q int) int {
	m := q % 2
	if m < 0 {
		m += 2
	}
	return m
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func embedDCTStatFrame(frame []byte, w, h int, mask [][]float64, alpha float64) {
	y, cr, cb := bgrToPlanes(frame, w, h)
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
		}
	}
	planesToBGR(frame, w, h, y, cr, cb)
}

func dctCorrelationFrame(frame []byte, w, h int, mask [][]float64) float64 {
	y, _, _ := bgrToPlanes(frame, w, h)
	var extracted, maskVals []float64
	for row := 0; row+blockSize <= h; row += blockSize {
		for col := 0; col+blockSize <= w; col += blockSize {
			block := getBlock(y, row, col)
			c := dsp.DCT2(block)
			for u := 1; u < 5; u++ {
				for v := 1; v < 5; v++ {
					extracted = append(extracted, c[u][v])
					maskVals = append(maskVals, mask[row+u][col+v])
				}
			}
		}
	}
	return pearson(extracted, maskVals)
}

func embedQIMFrame(frame []byte, w, h int, bits []int, positions []qimPos) {
	g := greenPlane(frame, w, h)
	for i, pos := range positions {
		if i >= len(bits) {
			break
		}
		row, col := pos.row*blockSize, pos.col*blockSize
		if row+blockSize > h || col+blockSize > w {
			continue
		}
		block := getBlock(g, row, col)
		c := dsp.DCT2(block)
		q := int(dsp.RoundHalfAwayFromZero(c[pos.u][pos.v] / qimStep))
		if mod2(q) != bits[i] {
			if bits[i] == 1 {
				q++
			} else {
				q--
			}
		}
		c[pos.u][pos.v] = float64(q) * qimStep
		inv := dsp.IDCT2(c)
		for ii := range inv {
			for jj := range inv[ii] {
				inv[ii][jj] = clipFloat(inv[ii][jj])
			}
		}
		setBlock(g, row, col, inv)
	}
	writeGreenPlane(frame, w, h, g)
}

func extractQIMFrame(frame []byte, w, h int, positions []qimPos) []int {
	g := greenPlane(frame, w, h)
	bits := make([]int, len(positions))
	for i, pos := range positions {
		row, col := pos.row*blockSize, pos.col*blockSize
		if row+blockSize > h || col+blockSize > w {
			continue
		}
		block := getBlock(g, row, col)
		c := dsp.DCT2(block)
		q := int(dsp.RoundHalfAwayFromZero(c[pos.u][pos.v] / qimStep))
		bits[i] = mod2(absInt(q))
	}
	return bits
}

// Embed applies the DCT statistical layer to every SAMPLE_EVERY-th frame
// and the QIM payload layer to PAYLOAD_FRAMES key frames, then
// re-encodes the frame stream losslessly.
func (e *Engine) Embed(_ context.Context, data []byte, params modality.EmbedParams) ([]byte, string, error) {
	header, frames, err := framestream.Decode(data)
	if err != nil {
		return nil, "", fmt.Errorf("videoengine: decode: %w", err)
	}
	if header.FrameCount == 0 {
		return nil, "", fmt.Errorf("videoengine: empty video")
	}

	alpha := params.WatermarkStrength * 10
	mask := e.dctMask(params.Key, header.Height, header.Width)

	ts := time.Now()
	raw := payload.Build(params.ModelName, params.Context, ts, params.Key)
	bits := payload.ToBits(raw)
	positions := e.qimPositions(params.Key, header.Height, header.Width)

	kfSet := make(map[int]bool, payloadFrames)
	for _, i := range keyFrameIndices(header.FrameCount) {
		kfSet[i] = true
	}

	out := make([][]byte, len(frames))
	for i, f := range frames {
		nf := append([]byte(nil), f...)
		if i%sampleEvery == 0 {
			embedDCTStatFrame(nf, header.Width, header.Height, mask, alpha)
		}
		if kfSet[i] {
			embedQIMFrame(nf, header.Width, header.Height, bits, positions)
		}
		out[i] = nf
	}

	encoded, err := framestream.Encode(header, out)
	if err != nil {
		return nil, "", fmt.Errorf("videoengine: encode: %w", err)
	}
	wmID := payload.DeriveWMID(params.ModelName, uint32(ts.Unix()), params.Key)
	return encoded, wmID, nil
}

// Verify computes the average DCT correlation across sampled frames and
// the QIM majority vote across key frames.
func (e *Engine) Verify(_ context.Context, data []byte, key []byte) (modality.Result, error) {
	header, frames, err := framestream.Decode(data)
	if err != nil {
		return modality.Result{}, fmt.Errorf("videoengine: decode: %w", err)
	}
	if header.FrameCount == 0 {
		return modality.Result{}, nil
	}

	mask := e.dctMask(key, header.Height, header.Width)
	positions := e.qimPositions(key, header.Height, header.Width)
	kf := keyFrameIndices(header.FrameCount)

	var corrVals []float64
	for i, f := range frames {
		if i%sampleEvery == 0 {
			corrVals = append(corrVals, dctCorrelationFrame(f, header.Width, header.Height, mask))
		}
	}
	qimVotes := make([][]int, 0, len(kf))
	for _, i := range kf {
		qimVotes = append(qimVotes, extractQIMFrame(frames[i], header.Width, header.Height, positions))
	}

	rho := mean(corrVals)
	statDetected := rho > corrThreshold
	statConf := clampUnit((rho - corrThreshold) / math.Max(1-corrThreshold, 0.01))

	voted := make([]int, payload.Bits)
	for b := 0; b < payload.Bits; b++ {
		sum := 0
		for _, v := range qimVotes {
			if b < len(v) {
				sum += v[b]
			}
		}
		if float64(sum) > float64(len(qimVotes))/2 {
			voted[b] = 1
		}
	}

	result := modality.Result{StatisticalScore: rho}
	if p, ok := payload.Parse(payload.FromBits(voted), key); ok {
		result.SignatureValid = true
		result.ModelName = p.ModelName
		result.Context = p.Context
		result.TimestampUnix = p.TimestampUnix
		result.HasTimestamp = true
		result.WMID = payload.DeriveWMID(p.ModelName, p.TimestampUnix, key)
		result.Source = modality.SourceVideoQIM
	}

	stegConf := 0.0
	if result.SignatureValid {
		stegConf = 0.9
	}
	result.Confidence = math.Max(statConf, stegConf)
	result.Detected = statDetected || result.SignatureValid
	return result, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
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
