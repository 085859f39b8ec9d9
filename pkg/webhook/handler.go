package webhook

import (
	"encoding/json"
	"io"
	"net/http"
)

// maxPayloadBytes bounds inbound payload size.
const maxPayloadBytes = 1 << 20

// Handler exposes the bridge as an unauthenticated inbound HTTP sink. The
// secret travels in the path; everything else is the raw payload body.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hooks/{secret}", b.handleReceive)
	return mux
}

type receiveResponse struct {
	Status     string `json:"status"`
	ID         string `json:"id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Unresolved bool   `json:"unresolved,omitempty"`
}

func (b *Bridge) handleReceive(w http.ResponseWriter, r *http.Request) {
	secret := r.PathValue("secret")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}

	result, err := b.Receive(r.Context(), secret, payload)
	if err != nil {
		http.Error(w, "failed to record event", http.StatusInternalServerError)
		return
	}

	resp := receiveResponse{
		Status:     string(result.Outcome),
		ID:         result.CreatedID,
		Reason:     result.Reason,
		Unresolved: result.Unresolved,
	}

	w.Header().Set("Content-Type", "application/json")
	if result.Outcome == OutcomeRejected {
		w.WriteHeader(http.StatusUnprocessableEntity)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
	json.NewEncoder(w).Encode(resp)
}
