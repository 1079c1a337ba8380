// Package pdfengine implements the PDF watermark: three independent
// layers so that no single metadata-stripping pass defeats detection —
// a custom WM_PAYLOAD document property, the standard Keywords property
// encoded as zero-width Unicode, and a hidden FreeText annotation
// carrying the same zero-width encoding on every page. Verification
// tries all three and returns on the first one that authenticates.
package pdfengine

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/aegiswm/watermark/internal/modality"
	"github.com/aegiswm/watermark/internal/payload"
)

const metaKey = "WM_PAYLOAD"

// Engine implements modality.Engine for PDF documents.
type Engine struct{}

func New() *Engine { return &Engine{} }

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

func zwDecodeString(s string) []int {
	var bits []int
	for _, r := range s {
		if pair, ok := zwReverse[r]; ok {
			bits = append(bits, pair[0], pair[1])
		}
	}
	return bits
}

// Embed writes the custom WM_PAYLOAD property, the Keywords property,
// and a hidden FreeText annotation on every page, in that order — each
// pass re-reads the output of the previous one so the three layers
// compose onto a single final document.
func (e *Engine) Embed(_ context.Context, data []byte, params modality.EmbedParams) ([]byte, string, error) {
	conf := model.NewDefaultConfiguration()

	ts := time.Now()
	raw := payload.Build(params.ModelName, params.Context, ts, params.Key)
	bits := payload.ToBits(raw)
	zwText := bitsToZW(bits)

	var withProps bytes.Buffer
	if err := api.AddProperties(bytes.NewReader(data), &withProps, map[string]string{metaKey: hex.EncodeToString(raw)}, conf); err != nil {
		return nil, "", fmt.Errorf("pdfengine: add properties: %w", err)
	}

	var withKeywords bytes.Buffer
	if err := api.AddKeywords(bytes.NewReader(withProps.Bytes()), &withKeywords, []string{zwText}, conf); err != nil {
		return nil, "", fmt.Errorf("pdfengine: add keywords: %w", err)
	}

	final, err := addHiddenAnnotations(withKeywords.Bytes(), zwText, conf)
	if err != nil {
		return nil, "", fmt.Errorf("pdfengine: add annotations: %w", err)
	}

	wmID := payload.DeriveWMID(params.ModelName, uint32(ts.Unix()), params.Key)
	return final, wmID, nil
}

// addHiddenAnnotations attaches one invisible+hidden FreeText annotation
// (flags 1+2, near-zero white text, zero-area rect) to every page.
func addHiddenAnnotations(data []byte, zwText string, conf *model.Configuration) ([]byte, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageDictIndRef, err := ctx.XRefTable.PageDictIndRef(pageNr)
		if err != nil || pageDictIndRef == nil {
			continue
		}
		pageDict, err := ctx.XRefTable.DereferenceDict(*pageDictIndRef)
		if err != nil || pageDict == nil {
			continue
		}

		annot := types.Dict(map[string]types.Object{
			"Type":     types.Name("Annot"),
			"Subtype":  types.Name("FreeText"),
			"Rect":     types.Array{types.Float(0), types.Float(0), types.Float(0), types.Float(0)},
			"Contents": types.StringLiteral(zwText),
			"F":        types.Integer(3), // Invisible (1) + Hidden (2)
			"DA":       types.StringLiteral("/Helv 0.01 Tf 1 1 1 rg"),
			"BS":       types.Dict(map[string]types.Object{"W": types.Integer(0)}),
		})
		annotIndRef, err := ctx.XRefTable.IndRefForNewObject(annot)
		if err != nil {
			continue
		}

		arr := types.Array{}
		if obj, found := pageDict.Find("Annots"); found {
			if existing, err := ctx.XRefTable.DereferenceArray(obj); err == nil && existing != nil {
				arr = existing
			}
		}
		arr = append(arr, *annotIndRef)
		pageDict.Update("Annots", arr)
	}

	var out bytes.Buffer
	if err := api.WriteContext(ctx, &out); err != nil {
		return nil, fmt.Errorf("write context: %w", err)
	}
	return out.Bytes(), nil
}

// Verify tries, in order: the WM_PAYLOAD property, the Keywords
// property, then every page's FreeText annotations. The first layer
// whose HMAC authenticates wins.
func (e *Engine) Verify(_ context.Context, data []byte, key []byte) (modality.Result, error) {
	conf := model.NewDefaultConfiguration()
	result := modality.Result{}

	if props, err := api.Properties(bytes.NewReader(data), conf); err == nil {
		if hexVal, ok := props[metaKey]; ok {
			if raw, err := hex.DecodeString(hexVal); err == nil {
				if p, ok := payload.Parse(raw, key); ok {
					fillFromPayload(&result, p, key, modality.SourcePDFMetadata)
				}
			}
		}
	}

	if !result.SignatureValid {
		if kws, err := api.Keywords(bytes.NewReader(data), conf); err == nil {
			for _, kw := range kws {
				bits := zwDecodeString(kw)
				if len(bits) < payload.Bits {
					continue
				}
				raw := payload.FromBits(bits[:payload.Bits])
				if p, ok := payload.Parse(raw, key); ok {
					fillFromPayload(&result, p, key, modality.SourcePDFKeywords)
					break
				}
			}
		}
	}

	if !result.SignatureValid {
		if p, ok := extractFromAnnotations(data, conf, key); ok {
			fillFromPayload(&result, p, key, modality.SourcePDFAnnotation)
		}
	}

	if result.SignatureValid {
		result.Confidence = 0.9
		result.Detected = true
	}
	return result, nil
}

func extractFromAnnotations(data []byte, conf *model.Configuration, key []byte) (payload.Payload, bool) {
	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return payload.Payload{}, false
	}

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageDictIndRef, err := ctx.XRefTable.PageDictIndRef(pageNr)
		if err != nil || pageDictIndRef == nil {
			continue
		}
		pageDict, err := ctx.XRefTable.DereferenceDict(*pageDictIndRef)
		if err != nil || pageDict == nil {
			continue
		}
		annotsObj, found := pageDict.Find("Annots")
		if !found {
			continue
		}
		annots, err := ctx.XRefTable.DereferenceArray(annotsObj)
		if err != nil {
			continue
		}
		for _, ref := range annots {
			annotDict, err := ctx.XRefTable.DereferenceDict(ref)
			if err != nil || annotDict == nil {
				continue
			}
			subtype, _ := annotDict.Find("Subtype")
			if name, ok := subtype.(types.Name); !ok || string(name) != "FreeText" {
				continue
			}
			contentsObj, found := annotDict.Find("Contents")
			if !found {
				continue
			}
			sl, ok := contentsObj.(types.StringLiteral)
			if !ok {
				continue
			}
			bits := zwDecodeString(string(sl))
			if len(bits) < payload.Bits {
				continue
			}
			raw := payload.FromBits(bits[:payload.Bits])
			if p, ok := payload.Parse(raw, key); ok {
				return p, true
			}
		}
	}
	return payload.Payload{}, false
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
