package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aegiswm/watermark/internal/dispatcher"
)

// WatermarkRequest mirrors the prototype's WatermarkRequest model.
type WatermarkRequest struct {
	DataType          string  `json:"data_type" validate:"required,oneof=text image audio video pdf"`
	Data              string  `json:"data" validate:"required"`
	WatermarkStrength float64 `json:"watermark_strength" validate:"gte=0,lte=1"`
	ModelName         string  `json:"model_name"`
	Context           string  `json:"context"`
}

// VerifyRequest mirrors the prototype's VerifyRequest model.
type VerifyRequest struct {
	DataType  string `json:"data_type" validate:"required,oneof=text image audio video pdf"`
	Data      string `json:"data" validate:"required"`
	ModelHint string `json:"model_name"`
}

func (s *Server) handleWatermark(w http.ResponseWriter, r *http.Request) {
	var req WatermarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WatermarkStrength == 0 {
		req.WatermarkStrength = 0.8
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.DataType == "text" {
		if err := validateTextPayload(req.Data); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	raw, err := rawBytes(req.DataType, req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid data encoding")
		return
	}

	resp, err := s.dispatcher.Embed(r.Context(), dispatcher.EmbedRequest{
		DataType:          dispatcher.DataType(req.DataType),
		Data:              raw,
		WatermarkStrength: req.WatermarkStrength,
		ModelName:         req.ModelName,
		Context:           req.Context,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "watermarking failed: "+err.Error())
		return
	}

	watermarkedField := string(resp.WatermarkedData)
	if req.DataType != "text" {
		watermarkedField = base64.StdEncoding.EncodeToString(resp.WatermarkedData)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"watermarked_data": watermarkedField,
		"watermark_metadata": map[string]interface{}{
			"watermark_id":            resp.WatermarkID,
			"embedding_method":        resp.EmbeddingMethod,
			"cryptographic_signature": resp.CryptographicSignature,
			"fingerprint_hash":        resp.FingerprintHash,
			"model_name":              resp.ModelName,
			"context":                 resp.Context,
			"registry_stored":         resp.RegistryStored,
		},
		"integrity_proof": map[string]interface{}{
			"algorithm": "HMAC-SHA256",
			"timestamp": resp.Timestamp,
		},
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.DataType == "text" {
		if err := validateTextPayload(req.Data); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	raw, err := rawBytes(req.DataType, req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid data encoding")
		return
	}

	resp, err := s.dispatcher.Verify(r.Context(), dispatcher.VerifyRequest{
		DataType:  dispatcher.DataType(req.DataType),
		Data:      raw,
		ModelHint: req.ModelHint,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verification failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"verification_result": map[string]interface{}{
			"watermark_detected":   resp.WatermarkDetected,
			"confidence_score":     resp.Confidence,
			"matched_watermark_id": resp.MatchedWatermarkID,
			"model_name":           resp.ModelName,
			"context":              resp.Context,
			"detection_source":     resp.DetectionSource,
		},
		"insight_and_risk": map[string]interface{}{
			"predicted_risk_score": resp.PredictedRiskScore,
			"predicted_risk_level": resp.PredictedRiskLevel,
			"insight":              resp.Insight,
			"automated_decision":   resp.AutomatedDecision,
		},
		"forensic_details": map[string]interface{}{
			"signature_valid":   resp.SignatureValid,
			"tamper_detected":   resp.TamperDetected,
			"statistical_score": resp.StatisticalScore,
			"registry_match":    resp.RegistryMatch,
		},
		"analysis_timestamp": resp.AnalysisTimestamp,
	})
}

func (s *Server) handleRegistryStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Registry().GetStats())
}

func (s *Server) handleRegistryEntries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Registry().AllEntries())
}

func (s *Server) handleRegistryByID(w http.ResponseWriter, r *http.Request) {
	wmID := mux.Vars(r)["wm_id"]
	entry, ok := s.dispatcher.Registry().LookupByID(wmID)
	if !ok {
		writeError(w, http.StatusNotFound, "watermark not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRegistryLookup(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw, err := rawBytes(req.DataType, req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid data encoding")
		return
	}

	match, found := s.dispatcher.Registry().LookupContent(req.DataType, raw)
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{"found": false, "match": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"found": true, "match": match})
}
