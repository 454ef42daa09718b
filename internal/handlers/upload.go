package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/platecheck/internal/models"
)

// HandleAnalyzeImage analyzes an uploaded meal photo without creating a session
func (h *Handler) HandleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	p, err := h.readPayload(w, r, "image", h.limits.MaxImageBytes)
	if err != nil {
		writePayloadError(w, r, err, h.limits.MaxImageBytes)
		return
	}
	if err := checkImage(r.Context(), p); err != nil {
		writePayloadError(w, r, err, h.limits.MaxImageBytes)
		return
	}

	result, err := h.analyzer.AnalyzeImage(r.Context(), p.Data, p.MIMEType)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleAnalyzeText analyzes a typed meal description
func (h *Handler) HandleAnalyzeText(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&request); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "Invalid JSON", err.Error())
		return
	}

	result, err := h.analyzer.AnalyzeText(r.Context(), request.Description)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleRecalculate applies a correction to a result supplied by the caller
func (h *Handler) HandleRecalculate(w http.ResponseWriter, r *http.Request) {
	var request struct {
		PreviousResult *models.AnalysisResult `json:"previousResult"`
		Correction     string                 `json:"correction"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 256*1024)).Decode(&request); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "Invalid JSON", err.Error())
		return
	}
	if request.PreviousResult == nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "previousResult is required", "")
		return
	}
	if strings.TrimSpace(request.Correction) == "" {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "correction is required", "")
		return
	}

	result, err := h.analyzer.Recalculate(r.Context(), request.PreviousResult, request.Correction)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleTranscribe turns an uploaded voice note into plain text
func (h *Handler) HandleTranscribe(w http.ResponseWriter, r *http.Request) {
	p, err := h.readPayload(w, r, "audio", h.limits.MaxAudioBytes)
	if err != nil {
		writePayloadError(w, r, err, h.limits.MaxAudioBytes)
		return
	}

	text, err := h.analyzer.Transcribe(r.Context(), p.Data, p.MIMEType)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"text": text})
}
