// Package modality defines the shared result type and engine contract
// implemented by every per-modality watermark engine (text, image, audio,
// video, PDF). There is no inheritance hierarchy here — each engine is a
// closed implementation of the same small interface, and the dispatcher
// selects one by data-type string.
package modality

import "context"

// Source names where a verify call recovered its payload from, echoed to
// callers as `detection_source`.
type Source string

const (
	SourceNone              Source = ""
	SourceTextCarrier       Source = "carrier_vote"
	SourceImageMetadata     Source = "metadata_wm_payload"
	SourceImageKeywords     Source = "metadata_keywords"
	SourceImageQIM          Source = "qim_dct"
	SourceAudioQIM          Source = "qim_fft"
	SourceVideoQIM          Source = "qim_dct"
	SourcePDFMetadata       Source = "metadata_wm_payload"
	SourcePDFKeywords       Source = "metadata_keywords"
	SourcePDFAnnotation     Source = "annotation"
	SourceRegistryExact     Source = "registry_exact_hash"
	SourceRegistryImage     Source = "registry_perceptual_image"
	SourceRegistryVideo     Source = "registry_perceptual_video"
	SourceRegistryAudio     Source = "registry_perceptual_audio"
	SourceRegistryText      Source = "registry_perceptual_text"
)

// Result is the common outcome of a verify call across all modalities,
// replacing the source prototype's string-indexed result dict with a
// concrete sum-of-optionals struct.
type Result struct {
	Detected          bool
	Confidence        float64
	StatisticalScore  float64
	SignatureValid    bool
	ModelName         string
	Context           string
	TimestampUnix     uint32
	HasTimestamp      bool
	WMID              string
	Source            Source
}

// EmbedParams carries the inputs every engine's Embed needs beyond the raw
// content bytes.
type EmbedParams struct {
	Key               []byte
	ModelName         string
	Context           string
	WatermarkStrength float64 // 0..1, default 0.8 at the dispatcher boundary
}

// Engine is implemented once per modality. Embed returns the watermarked
// bytes plus the WM-ID assigned to them; Verify inspects bytes and reports
// a Result. Both are pure functions of their inputs — no engine holds
// mutable state across calls except the video engine's append-only mask
// cache, which is safe for concurrent reads.
type Engine interface {
	Embed(ctx context.Context, data []byte, params EmbedParams) ([]byte, string, error)
	Verify(ctx context.Context, data []byte, key []byte) (Result, error)
}
