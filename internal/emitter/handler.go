package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"realtime-service/internal/event"
	"realtime-service/internal/shared/httpx"
)

type Handler struct{ em *Emitter }

func NewHandler(em *Emitter) *Handler { return &Handler{em: em} }

// Emit accepts {"event":{...},"origin":"..."} from the CRUD layer after a
// mutation commits.
func (h *Handler) Emit(w http.ResponseWriter, r *http.Request) error {
	if _, err := httpx.UserFromCtx(r); err != nil {
		return err
	}
	req, err := httpx.Decode[Request](r)
	if err != nil {
		return fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}
	if err := h.em.Emit(r.Context(), SourceHTTP, req); err != nil {
		return err
	}
	httpx.WriteJSON(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
	return nil
}

// HandleMessage is the kafka.Handler for the committed-mutation topic. The
// message value has the same shape as the HTTP body.
func (h *Handler) HandleMessage(ctx context.Context, topic string, key, value []byte) error {
	var req Request
	if err := json.Unmarshal(value, &req); err != nil {
		return fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}
	return h.em.Emit(ctx, SourceKafka, req)
}
