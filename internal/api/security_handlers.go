package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aegiswm/watermark/internal/security"
)

type issueKeyRequest struct {
	Scope         string `json:"scope" validate:"required,oneof=read write admin"`
	ExpiresInDays int    `json:"expires_in_days"`
}

func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExpiresInDays <= 0 {
		req.ExpiresInDays = 30
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	issued, err := s.keys.Issue(security.Scope(req.Scope), time.Duration(req.ExpiresInDays)*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "issue key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

func (s *Server) handleListKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.keys.List())
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["key_id"]
	if !s.keys.Revoke(keyID) {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleSecurityAudit(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.keys.RunAudit(7))
}

type certificateRequest struct {
	DataType  string `json:"data_type" validate:"required,oneof=text image audio video pdf"`
	Data      string `json:"data" validate:"required"`
	ModelName string `json:"model_name"`
}

func (s *Server) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	var req certificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := rawBytes(req.DataType, req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid data encoding")
		return
	}

	cert, err := s.keys.IssueCertificate(raw, req.DataType, req.ModelName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "issue certificate: "+err.Error())
		return
	}

	if r.URL.Query().Get("format") == "pdf" {
		pdfBytes, err := security.RenderCertificatePDF(cert)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "render certificate pdf: "+err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
		w.Write(pdfBytes)
		return
	}

	writeJSON(w, http.StatusOK, cert)
}

type verifyCertificateRequest struct {
	DataType    string               `json:"data_type" validate:"required,oneof=text image audio video pdf"`
	Data        string               `json:"data" validate:"required"`
	Certificate security.Certificate `json:"certificate"`
}

func (s *Server) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	var req verifyCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := rawBytes(req.DataType, req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid data encoding")
		return
	}

	result := s.keys.VerifyCertificate(raw, req.DataType, req.Certificate)
	writeJSON(w, http.StatusOK, result)
}
