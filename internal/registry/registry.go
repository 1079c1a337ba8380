// Package registry is the server-side proof-of-provenance store. The
// frequency-domain watermark layers live inside the content itself —
// replace the pixels, strip the metadata, and they are gone. The
// registry is the last line of defense: it records a perceptual
// fingerprint of every watermarked piece of content externally, so
// provenance can still be proven even after the in-band layers are
// destroyed.
package registry

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
	"math/cmplx"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/aegiswm/watermark/internal/container/framestream"
	"github.com/aegiswm/watermark/internal/container/wavcodec"
)

// CurrentSchemaVersion is the entry format version written by this
// build. Entries whose schema_version falls outside the compatible
// constraint are skipped on load rather than risking a misread field.
const CurrentSchemaVersion = "1.0.0"

var schemaConstraint = func() *semver.Constraints {
	c, err := semver.NewConstraint("^" + CurrentSchemaVersion)
	if err != nil {
		panic(err)
	}
	return c
}()

// Entry is one registered piece of watermarked content.
type Entry struct {
	WMID             string    `json:"wm_id"`
	DataType         string    `json:"data_type"`
	ContentHash      string    `json:"content_hash"`
	WMContentHash    string    `json:"wm_content_hash"`
	PHash            string    `json:"phash,omitempty"`
	FrameHashes      []string  `json:"frame_hashes,omitempty"`
	AudioFingerprint []float64 `json:"audio_fingerprint,omitempty"`
	TextShingles     []string  `json:"text_shingles,omitempty"`
	ModelName        string    `json:"model_name,omitempty"`
	Context          string    `json:"context,omitempty"`
	PayloadHex       string    `json:"payload_hex,omitempty"`
	RegisteredAt     time.Time `json:"registered_at"`
	SchemaVersion    string    `json:"schema_version"`
}

// Match wraps a registered Entry with the details of how a lookup found it.
type Match struct {
	Entry
	MatchType     string  `json:"match_type"`
	MatchDistance int     `json:"match_distance,omitempty"`
	MatchScore    float64 `json:"match_score,omitempty"`
}

// Stats summarizes the registry's contents.
type Stats struct {
	TotalEntries int            `json:"total_entries"`
	ByDataType   map[string]int `json:"by_data_type"`
	Fingerprints map[string]int `json:"fingerprints"`
	RegistryFile string         `json:"registry_file"`
}

// Registry is a JSON-file-backed registry, safe for concurrent use by
// every request goroutine in the process.
type Registry struct {
	mu   sync.Mutex
	path string
}

// New returns a registry backed by the JSON file at path. The file is
// created on first write; a missing file reads as empty.
func New(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) readLocked() ([]Entry, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", r.path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil // corrupt file reads as empty, same as the source registry
	}

	filtered := entries[:0]
	for _, e := range entries {
		v, err := semver.NewVersion(e.SchemaVersion)
		if err != nil || !schemaConstraint.Check(v) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

func (r *Registry) writeLocked(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write temp file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("registry: rename temp file: %w", err)
	}
	return nil
}

// Register stores proof of a watermarked content. Duplicate wm_id
// inserts are a no-op, returning the existing entry.
func (r *Registry) Register(wmID, dataType string, original, watermarked []byte, modelName, context, payloadHex string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.readLocked()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.WMID == wmID {
			return e, nil
		}
	}

	entry := Entry{
		WMID:          wmID,
		DataType:      dataType,
		ContentHash:   hexSHA256(original),
		WMContentHash: hexSHA256(watermarked),
		ModelName:     modelName,
		Context:       context,
		PayloadHex:    payloadHex,
		RegisteredAt:  time.Now().UTC(),
		SchemaVersion: CurrentSchemaVersion,
	}

	switch dataType {
	case "image":
		if img, err := png.Decode(bytes.NewReader(original)); err == nil {
			entry.PHash = averageHash(img)
		}
	case "video":
		if hs, err := videoFrameHashes(original); err == nil {
			entry.FrameHashes = hs
		}
	case "audio":
		if fp, err := audioSpectralFingerprint(original); err == nil {
			entry.AudioFingerprint = fp
		}
	case "text":
		entry.TextShingles = textShingles(string(original))
	}

	entries = append(entries, entry)
	if err := r.writeLocked(entries); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// LookupByID performs an exact match on watermark ID.
func (r *Registry) LookupByID(wmID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.readLocked()
	if err != nil {
		return Entry{}, false
	}
	for _, e := range entries {
		if e.WMID == wmID {
			return e, true
		}
	}
	return Entry{}, false
}

// LookupByHash performs an exact match on either content hash.
func (r *Registry) LookupByHash(contentHash string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.readLocked()
	if err != nil {
		return Entry{}, false
	}
	for _, e := range entries {
		if e.ContentHash == contentHash || e.WMContentHash == contentHash {
			return e, true
		}
	}
	return Entry{}, false
}

// LookupByPerceptualImage finds a registered image within maxDistance
// Hamming bits of the query's average hash.
func (r *Registry) LookupByPerceptualImage(imageBytes []byte, maxDistance int) (Match, bool) {
	img, err := png.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return Match{}, false
	}
	queryHash := averageHash(img)

	r.mu.Lock()
	entries, err := r.readLocked()
	r.mu.Unlock()
	if err != nil {
		return Match{}, false
	}

	var best *Entry
	bestDist := maxDistance + 1
	for i := range entries {
		e := &entries[i]
		if e.DataType != "image" || e.PHash == "" {
			continue
		}
		dist := hammingDistance(queryHash, e.PHash)
		if dist < bestDist {
			bestDist = dist
			best = e
		}
	}
	if best == nil || bestDist > maxDistance {
		return Match{}, false
	}
	return Match{Entry: *best, MatchType: "perceptual_image", MatchDistance: bestDist}, true
}

// LookupByPerceptualVideo finds a registered video whose keyframe
// hashes overlap the query's by at least minFrameMatch.
func (r *Registry) LookupByPerceptualVideo(videoBytes []byte, minFrameMatch float64) (Match, bool) {
	queryHashes, err := videoFrameHashes(videoBytes)
	if err != nil || len(queryHashes) == 0 {
		return Match{}, false
	}

	r.mu.Lock()
	entries, err := r.readLocked()
	r.mu.Unlock()
	if err != nil {
		return Match{}, false
	}

	var best *Entry
	bestScore := minFrameMatch
	for i := range entries {
		e := &entries[i]
		if e.DataType != "video" || len(e.FrameHashes) == 0 {
			continue
		}
		matches := 0
		for _, qh := range queryHashes {
			for _, rh := range e.FrameHashes {
				if hammingDistance(qh, rh) <= 64 {
					matches++
					break
				}
			}
		}
		total := len(queryHashes)
		if len(e.FrameHashes) < total {
			total = len(e.FrameHashes)
		}
		if total < 1 {
			total = 1
		}
		ratio := float64(matches) / float64(total)
		if ratio > bestScore || (best == nil && ratio >= bestScore) {
			bestScore = ratio
			best = e
		}
	}
	if best == nil {
		return Match{}, false
	}
	return Match{Entry: *best, MatchType: "perceptual_video", MatchScore: round4(bestScore)}, true
}

// LookupByPerceptualAudio finds a registered audio clip whose spectral
// fingerprint has cosine similarity at least minSimilarity.
func (r *Registry) LookupByPerceptualAudio(audioBytes []byte, minSimilarity float64) (Match, bool) {
	queryFP, err := audioSpectralFingerprint(audioBytes)
	if err != nil {
		return Match{}, false
	}

	r.mu.Lock()
	entries, err := r.readLocked()
	r.mu.Unlock()
	if err != nil {
		return Match{}, false
	}

	var best *Entry
	bestSim := minSimilarity
	for i := range entries {
		e := &entries[i]
		if e.DataType != "audio" || len(e.AudioFingerprint) == 0 {
			continue
		}
		sim := cosineSimilarity(queryFP, e.AudioFingerprint)
		if sim > bestSim || (best == nil && sim >= bestSim) {
			bestSim = sim
			best = e
		}
	}
	if best == nil {
		return Match{}, false
	}
	return Match{Entry: *best, MatchType: "perceptual_audio", MatchScore: round4(bestSim)}, true
}

// LookupByPerceptualText finds a registered text whose 3-gram shingles
// have Jaccard similarity at least minSimilarity, tolerating paraphrase.
func (r *Registry) LookupByPerceptualText(text string, minSimilarity float64) (Match, bool) {
	queryShingles := textShingles(text)
	if len(queryShingles) == 0 {
		return Match{}, false
	}

	r.mu.Lock()
	entries, err := r.readLocked()
	r.mu.Unlock()
	if err != nil {
		return Match{}, false
	}

	var best *Entry
	bestSim := minSimilarity
	for i := range entries {
		e := &entries[i]
		if e.DataType != "text" || len(e.TextShingles) == 0 {
			continue
		}
		sim := jaccardSimilarity(queryShingles, e.TextShingles)
		if sim > bestSim || (best == nil && sim >= bestSim) {
			bestSim = sim
			best = e
		}
	}
	if best == nil {
		return Match{}, false
	}
	return Match{Entry: *best, MatchType: "perceptual_text", MatchScore: round4(bestSim)}, true
}

// LookupContent tries exact hash match first, then falls back to the
// perceptual method for dataType.
func (r *Registry) LookupContent(dataType string, content []byte) (Match, bool) {
	if e, ok := r.LookupByHash(hexSHA256(content)); ok {
		return Match{Entry: e, MatchType: "exact_hash"}, true
	}
	switch dataType {
	case "image":
		return r.LookupByPerceptualImage(content, 64)
	case "video":
		return r.LookupByPerceptualVideo(content, 0.5)
	case "audio":
		return r.LookupByPerceptualAudio(content, 0.80)
	case "text":
		return r.LookupByPerceptualText(string(content), 0.40)
	default:
		return Match{}, false
	}
}

// GetStats summarizes the registry's contents.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	entries, err := r.readLocked()
	r.mu.Unlock()
	if err != nil {
		entries = nil
	}

	byType := make(map[string]int)
	fp := map[string]int{"image_phash": 0, "video_frames": 0, "audio_spectral": 0, "text_shingles": 0}
	for _, e := range entries {
		byType[e.DataType]++
		if e.PHash != "" {
			fp["image_phash"]++
		}
		if len(e.FrameHashes) > 0 {
			fp["video_frames"]++
		}
		if len(e.AudioFingerprint) > 0 {
			fp["audio_spectral"]++
		}
		if len(e.TextShingles) > 0 {
			fp["text_shingles"]++
		}
	}

	return Stats{
		TotalEntries: len(entries),
		ByDataType:   byType,
		Fingerprints: fp,
		RegistryFile: r.path,
	}
}

// AllEntries returns every registry entry, for dashboard display.
func (r *Registry) AllEntries() []Entry {
	r.mu.Lock()
	entries, err := r.readLocked()
	r.mu.Unlock()
	if err != nil {
		return nil
	}
	return entries
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

const hashSize = 16

// averageHash computes a 256-bit perceptual average hash: downscale to
// 16x16 grayscale, then one bit per pixel for above/below mean.
func averageHash(img image.Image) string {
	dst := image.NewGray(image.Rect(0, 0, hashSize, hashSize))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	sum := 0.0
	for _, p := range dst.Pix {
		sum += float64(p)
	}
	mean := sum / float64(len(dst.Pix))

	bits := make([]byte, 0, len(dst.Pix)/8+1)
	var cur byte
	count := 0
	for _, p := range dst.Pix {
		cur <<= 1
		if float64(p) > mean {
			cur |= 1
		}
		count++
		if count == 8 {
			bits = append(bits, cur)
			cur = 0
			count = 0
		}
	}
	if count > 0 {
		cur <<= uint(8 - count)
		bits = append(bits, cur)
	}
	return hex.EncodeToString(bits)
}

func hammingDistance(h1, h2 string) int {
	if h1 == "" || h2 == "" || len(h1) != len(h2) {
		return 999
	}
	b1, err1 := hex.DecodeString(h1)
	b2, err2 := hex.DecodeString(h2)
	if err1 != nil || err2 != nil {
		return 999
	}
	dist := 0
	for i := range b1 {
		x := b1[i] ^ b2[i]
		for x != 0 {
			dist += int(x & 1)
			x >>= 1
		}
	}
	return dist
}

func videoFrameHashes(data []byte) ([]string, error) {
	header, frames, err := framestream.Decode(data)
	if err != nil {
		return nil, err
	}
	if header.FrameCount == 0 {
		return nil, fmt.Errorf("registry: empty video")
	}
	const numFrames = 8
	n := numFrames
	if n > header.FrameCount {
		n = header.FrameCount
	}
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := i * header.FrameCount / numFrames
		if idx >= header.FrameCount {
			idx = header.FrameCount - 1
		}
		img := bgrFrameToImage(frames[idx], header.Width, header.Height)
		hashes = append(hashes, averageHash(img))
	}
	return hashes, nil
}

func bgrFrameToImage(frame []byte, w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			o := (row*w + col) * 3
			i := img.PixOffset(col, row)
			img.Pix[i+0] = frame[o+2] // R
			img.Pix[i+1] = frame[o+1] // G
			img.Pix[i+2] = frame[o+0] // B
			img.Pix[i+3] = 255
		}
	}
	return img
}

func audioSpectralFingerprint(data []byte) ([]float64, error) {
	audio, err := wavcodec.Decode(data)
	if err != nil {
		return nil, err
	}

	nCh := audio.Params.NumChannels
	var mono []float64
	if nCh <= 1 {
		mono = append(mono, audio.Samples...)
	} else {
		for i := 0; i+nCh <= len(audio.Samples); i += nCh {
			sum := 0.0
			for c := 0; c < nCh; c++ {
				sum += audio.Samples[i+c]
			}
			mono = append(mono, sum/float64(nCh))
		}
	}
	if len(mono) == 0 {
		return nil, fmt.Errorf("registry: empty audio")
	}

	peak := 0.0
	for _, v := range mono {
		if math.Abs(v) > peak {
			peak = math.Abs(v)
		}
	}
	if peak > 0 {
		for i := range mono {
			mono[i] /= peak
		}
	}

	fft := fourier.NewFFT(len(mono))
	coeffs := fft.Coefficients(nil, mono)
	mags := make([]float64, len(coeffs))
	for i, c := range coeffs {
		mags[i] = cmplx.Abs(c)
	}

	const nBands = 32
	bandSize := len(mags) / nBands
	if bandSize < 1 {
		return nil, fmt.Errorf("registry: audio too short for a spectral fingerprint")
	}
	bands := make([]float64, nBands)
	for i := 0; i < nBands; i++ {
		start := i * bandSize
		end := start + bandSize
		sum := 0.0
		for _, v := range mags[start:end] {
			sum += v
		}
		bands[i] = sum / float64(bandSize)
	}

	norm := 0.0
	for _, b := range bands {
		norm += b * b
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range bands {
			bands[i] = round6(bands[i] / norm)
		}
	}
	return bands, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// textShingles splits text into whitespace-normalized 3-grams, hashes
// each with MD5 truncated to 8 hex chars, and keeps up to 200 sorted
// unique shingles.
func textShingles(text string) []string {
	const k = 3
	words := strings.Fields(strings.ToLower(text))
	if len(words) < k {
		return nil
	}
	seen := make(map[string]struct{})
	for i := 0; i+k <= len(words); i++ {
		shingle := strings.Join(words[i:i+k], " ")
		sum := md5.Sum([]byte(shingle))
		seen[hex.EncodeToString(sum[:])[:8]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) > 200 {
		out = out[:200]
	}
	return out
}

func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}
	inter := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func round4(x float64) float64 { return math.Round(x*1e4) / 1e4 }
func round6(x float64) float64 { return math.Round(x*1e6) / 1e6 }
