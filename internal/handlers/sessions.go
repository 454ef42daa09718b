package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lehigh-university-libraries/platecheck/internal/session"
)

func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	entries := h.sessionStore.GetAll()
	sessionList := make([]sessionResponse, 0, len(entries))
	for _, entry := range entries {
		sessionList = append(sessionList, newSessionResponse(entry, entry.Machine.Snapshot()))
	}
	writeJSON(w, r, http.StatusOK, sessionList)
}

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	machine := session.New(h.analyzer, h.language(r))
	entry := h.sessionStore.Create(machine)
	writeJSON(w, r, http.StatusCreated, newSessionResponse(entry, machine.Snapshot()))
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, newSessionResponse(entry, entry.Machine.Snapshot()))
}

func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	// a late result from an in-flight call must not land anywhere
	entry.Machine.Reset()
	h.sessionStore.Delete(entry.ID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSessionIntent dispatches POST /api/sessions/{id}/{intent}
func (h *Handler) HandleSessionIntent(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	machine := entry.Machine
	machine.SetLanguage(h.language(r))
	// the outcome belongs to the session; only reset or delete may drop it
	ctx := context.WithoutCancel(r.Context())

	var state session.State
	var err error

	switch r.PathValue("intent") {
	case "image":
		p, perr := h.readPayload(w, r, "image", h.limits.MaxImageBytes)
		if perr == nil {
			perr = checkImage(r.Context(), p)
		}
		if perr != nil {
			writePayloadError(w, r, perr, h.limits.MaxImageBytes)
			return
		}
		state, err = machine.SubmitImage(ctx, p.Data, p.MIMEType)
	case "description":
		var request struct {
			Description string `json:"description"`
		}
		if derr := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&request); derr != nil {
			writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "Invalid JSON", derr.Error())
			return
		}
		state, err = machine.SubmitDescription(ctx, request.Description)
	case "correction":
		var request struct {
			Correction string `json:"correction"`
		}
		// an empty body submits the pending (transcribed) correction
		if r.ContentLength != 0 {
			if derr := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&request); derr != nil {
				writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "Invalid JSON", derr.Error())
				return
			}
		}
		state, err = machine.SubmitCorrection(ctx, request.Correction)
	case "voice":
		p, perr := h.readPayload(w, r, "audio", h.limits.MaxAudioBytes)
		if perr != nil {
			writePayloadError(w, r, perr, h.limits.MaxAudioBytes)
			return
		}
		state, err = machine.SubmitVoiceCorrection(ctx, p.Data, p.MIMEType)
	case "dismiss":
		state, err = machine.DismissError()
	case "reset":
		state = machine.Reset()
	default:
		writeError(w, r, http.StatusNotFound, codeInvalidRequest, "Unknown session action", r.PathValue("intent"))
		return
	}

	entry.Touch()
	if err != nil {
		writeIntentError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newSessionResponse(entry, state))
}

func writeIntentError(w http.ResponseWriter, r *http.Request, err error) {
	var te *session.TransitionError
	switch {
	case errors.Is(err, session.ErrBusy):
		writeError(w, r, http.StatusConflict, codeSessionBusy, "An analysis is already running for this session.", err.Error())
	case errors.Is(err, session.ErrDiscarded):
		writeError(w, r, http.StatusConflict, codeSessionReset, "The session was reset before the analysis finished.", err.Error())
	case errors.Is(err, session.ErrEmptyCorrection):
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "Please enter or record a correction first.", err.Error())
	case errors.As(err, &te):
		writeError(w, r, http.StatusConflict, codeInvalidTransition, "That action is not available right now.", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "UNKNOWN", "Something went wrong.", err.Error())
	}
}
