package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	apperrors "github.com/pulsehub/hub/internal/errors"
)

// MaxBodyBytes bounds a single check-in payload.
const MaxBodyBytes = 64 * 1024

// Transport names used in events and logs.
const (
	TransportHTTP   = "http"
	TransportSocket = "socket"
)

// Handler serves POST /data.
//
// The device always gets 200 with a JSON command, even for garbage or
// oversized bodies: firmware treats anything else as "hub unreachable" and
// backs off, which would delay the next command.
type Handler struct {
	processor *Processor
}

// NewHandler creates the HTTP check-in handler.
func NewHandler(p *Processor) *Handler {
	return &Handler{processor: p}
}

// ServeHTTP handles one check-in.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp Response
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Printf("ingest: %s", apperrors.New(apperrors.CodeIngestTooLarge,
				"check-in body exceeds limit, keeping previous readings").Error())
		} else {
			log.Printf("ingest: failed to read check-in body: %v", err)
		}
		// The device still reached us and may be owed a pulse.
		resp = h.processor.ProcessUnreadable(TransportHTTP)
	} else {
		resp = h.processor.Process(body, TransportHTTP)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("ingest: failed to write response: %v", err)
	}
}
