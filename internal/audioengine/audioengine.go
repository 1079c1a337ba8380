// Package audioengine implements the audio watermark: a mid-band FFT
// statistical layer plus a 3-copy amplitude-invariant magnitude-QIM
// payload layer spread across non-overlapping frequency sub-bands.
package audioengine

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"sort"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/aegiswm/watermark/internal/container/wavcodec"
	"github.com/aegiswm/watermark/internal/modality"
	"github.com/aegiswm/watermark/internal/payload"
	"github.com/aegiswm/watermark/internal/wmcrypto"
)

const (
	qimFrac       = 0.40
	copies        = 3
	corrThreshold = 0.08
)

// Engine implements modality.Engine for PCM WAV audio.
type Engine struct{}

func New() *Engine { return &Engine{} }

func watermarkBand(nFreqs int) (lo, hi int) {
	return nFreqs / 8, nFreqs / 4
}

func freqMask(key []byte, size int) []float64 {
	r := wmcrypto.NewKeyedRand(key, []byte("audio_fft"))
	mask := make([]float64, size)
	for i := range mask {
		if r.Intn(2) == 0 {
			mask[i] = -1
		} else {
			mask[i] = 1
		}
	}
	return mask
}

func qimBand(copyIdx, nFreqs int) (lo, hi int) {
	sliceSize := nFreqs / 6
	if sliceSize < 1 {
		sliceSize = 1
	}
	lo = (2*copyIdx + 1) * sliceSize
	hi = lo + sliceSize
	if hi > nFreqs-1 {
		hi = nFreqs - 1
	}
	return lo, hi
}

func qimPositions(key []byte, nFreqs, copyIdx int) []int {
	lo, hi := qimBand(copyIdx, nFreqs)
	bandSize := hi - lo
	r := wmcrypto.NewKeyedRand(key, append([]byte("aud_qim"), byte(copyIdx)))

	if bandSize < payload.Bits {
		hiBound := lo + 1
		if hi > hiBound {
			hiBound = hi
		}
		positions := make([]int, payload.Bits)
		for i := range positions {
			positions[i] = lo + r.Intn(hiBound-lo)
		}
		return positions
	}

	seen := make(map[int]struct{}, payload.Bits)
	positions := make([]int, 0, payload.Bits)
	for len(positions) < payload.Bits {
		f := lo + r.Intn(hi-lo)
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			positions = append(positions, f)
		}
	}
	return positions
}

func bandQIMStep(x []complex128, copyIdx, nFreqs int) float64 {
	lo, hi := qimBand(copyIdx, nFreqs)
	mags := make([]float64, 0, hi-lo)
	for _, v := range x[lo:hi] {
		mags = append(mags, cmplx.Abs(v))
	}
	med := median(mags)
	step := med * qimFrac
	if step < 1.0 {
		step = 1.0
	}
	return step
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func embedQIM(x []complex128, bits []int, positions []int, step float64) {
	for i, f := range positions {
		if i >= len(bits) {
			break
		}
		mag := cmplx.Abs(x[f])
		phase := cmplx.Phase(x[f])
		q := int(math.Round(mag / step))
		if mod2(q) != bits[i] {
			if bits[i] == 1 {
				q++
			} else if q > 0 {
				q--
			}
		}
		mag2 := float64(q) * step
		x[f] = cmplx.Rect(mag2, phase)
	}
}

func extractQIM(x []complex128, positions []int, step float64) []int {
	bits := make([]int, len(positions))
	for i, f := range positions {
		q := int(math.Round(cmplx.Abs(x[f]) / step))
		bits[i] = mod2(q)
	}
	return bits
}

func mod2(q int) int {
	m := q % 2
	if m < 0 {
		m += 2
	}
	return m
}

// Embed applies the FFT statistical mark then the 3-copy magnitude-QIM
// payload layer to the first channel of the decoded WAV.
func (e *Engine) Embed(_ context.Context, data []byte, params modality.EmbedParams) ([]byte, string, error) {
	audio, err := wavcodec.Decode(data)
	if err != nil {
		return nil, "", fmt.Errorf("audioengine: decode WAV: %w", err)
	}
	nCh := audio.Params.NumChannels
	mono := extractChannel(audio.Samples, nCh)

	fft := fourier.NewFFT(len(mono))
	x := fft.Coefficients(nil, mono)
	nFreqs := len(x)

	lo, hi := watermarkBand(nFreqs)
	mask := freqMask(params.Key, hi-lo)
	aMax := maxAbs(mono)
	if aMax == 0 {
		aMax = 1
	}
	alpha := params.WatermarkStrength * 0.01
	for i := lo; i < hi; i++ {
		x[i] += complex(alpha*aMax*mask[i-lo], 0)
	}

	ts := time.Now()
	raw := payload.Build(params.ModelName, params.Context, ts, params.Key)
	bits := payload.ToBits(raw)

	steps := make([]float64, copies)
	for c := 0; c < copies; c++ {
		steps[c] = bandQIMStep(x, c, nFreqs)
	}
	for c := 0; c < copies; c++ {
		positions := qimPositions(params.Key, nFreqs, c)
		embedQIM(x, bits, positions, steps[c])
	}

	monoW := fft.Sequence(nil, x)
	minV, maxV := audio.SampleRange()
	monoInt := make([]float64, len(monoW))
	for i, v := range monoW {
		monoInt[i] = saturate(v, minV, maxV)
	}

	out := make([]float64, len(audio.Samples))
	copy(out, audio.Samples)
	writeChannel(out, monoInt, nCh)

	encoded, err := wavcodec.Encode(&wavcodec.Audio{Params: audio.Params, Samples: out})
	if err != nil {
		return nil, "", fmt.Errorf("audioengine: encode WAV: %w", err)
	}

	wmID := payload.DeriveWMID(params.ModelName, uint32(ts.Unix()), params.Key)
	return encoded, wmID, nil
}

// Verify computes the FFT correlation statistical signal and the 3-copy
// magnitude-QIM majority vote.
func (e *Engine) Verify(_ context.Context, data []byte, key []byte) (modality.Result, error) {
	audio, err := wavcodec.Decode(data)
	if err != nil {
		return modality.Result{}, fmt.Errorf("audioengine: decode WAV: %w", err)
	}
	mono := extractChannel(audio.Samples, audio.Params.NumChannels)

	fft := fourier.NewFFT(len(mono))
	x := fft.Coefficients(nil, mono)
	nFreqs := len(x)

	lo, hi := watermarkBand(nFreqs)
	mask := freqMask(key, hi-lo)

	xBand := make([]float64, hi-lo)
	for i := lo; i < hi; i++ {
		xBand[i-lo] = real(x[i])
	}
	rho := pearson(xBand, mask)

	statDetected := math.Abs(rho) > corrThreshold
	statConf := clampUnit((math.Abs(rho) - corrThreshold) / math.Max(0.5-corrThreshold, 0.01))

	copyBits := make([][]int, copies)
	for c := 0; c < copies; c++ {
		positions := qimPositions(key, nFreqs, c)
		step := bandQIMStep(x, c, nFreqs)
		copyBits[c] = extractQIM(x, positions, step)
	}

	voted := make([]int, payload.Bits)
	for i := 0; i < payload.Bits; i++ {
		sum := 0
		for _, cb := range copyBits {
			if i < len(cb) {
				sum += cb[i]
			}
		}
		if float64(sum) > float64(len(copyBits))/2 {
			voted[i] = 1
		}
	}

	result := modality.Result{StatisticalScore: rho}
	p, ok := payload.Parse(payload.FromBits(voted), key)
	if ok {
		result.SignatureValid = true
		result.ModelName = p.ModelName
		result.Context = p.Context
		result.TimestampUnix = p.TimestampUnix
		result.HasTimestamp = true
		result.WMID = payload.DeriveWMID(p.ModelName, p.TimestampUnix, key)
		result.Source = modality.SourceAudioQIM
	}

	stegConf := 0.0
	if result.SignatureValid {
		stegConf = 0.9
	}
	result.Confidence = math.Max(statConf, stegConf)
	result.Detected = statDetected || result.SignatureValid
	return result, nil
}

func extractChannel(samples []float64, nCh int) []float64 {
	if nCh <= 1 {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out
	}
	out := make([]float64, len(samples)/nCh)
	for i := range out {
		out[i] = samples[i*nCh]
	}
	return out
}

func writeChannel(dst []float64, channel []float64, nCh int) {
	if nCh <= 1 {
		copy(dst, channel)
		return
	}
	for i, v := range channel {
		if i*nCh < len(dst) {
			dst[i*nCh] = v
		}
	}
}

func maxAbs(xs []float64) float64 {
	m := 0.0
	for _, v := range xs {
		if math.Abs(v) > m {
			m = math.Abs(v)
		}
	}
	return m
}

func saturate(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return math.Round(v)
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
