package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pithecene-io/sluice/iox"
	"github.com/pithecene-io/sluice/types"
)

// ExtractResponse is the body of a /v1/extract response. Records is null
// when nothing was recovered.
type ExtractResponse struct {
	Records  []types.Candidate `json:"records"`
	Strategy string            `json:"strategy,omitempty"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	text, err := iox.ReadAllLimit(r.Body, s.cfg.MaxExtractBytes)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, iox.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}

	records, strategy := s.engine.ExtractWithStrategy(string(text))
	s.logger.Debug("extract", map[string]any{
		"bytes":    len(text),
		"records":  len(records),
		"strategy": strategy,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ExtractResponse{Records: records, Strategy: strategy}) //nolint:errcheck
}
