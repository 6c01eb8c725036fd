package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	relaysync "github.com/relaysync/core/sync"
)

// handleEvents serves the live change-event stream (§6 "Event wire
// format"). Resume is driven by Last-Event-ID (preferred) or a since
// query parameter; §9's open question resolves the conflict in the
// header's favor.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, relaysync.NewError(relaysync.CodeInternal, "streaming unsupported"), requestID(r))
		return
	}

	lastEventID := resumePoint(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	session := h.engine.Subscribe(r.Context(), lastEventID)
	defer session.Close()

	h.log.Info("subscriber attached", slog.String("lastEventId", lastEventID))
	defer h.log.Info("subscriber detached")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-session.Done():
			return
		case msg, ok := <-session.Messages():
			if !ok {
				return
			}
			if err := writeSSEMessage(w, msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// resumePoint resolves the caller's resume point: the Last-Event-ID
// header takes precedence over a since query parameter when both are
// present (§9).
func resumePoint(r *http.Request) string {
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("since")
}

func writeSSEMessage(w http.ResponseWriter, msg relaysync.Message) error {
	switch msg.Kind {
	case relaysync.MessageHeartbeat:
		_, err := fmt.Fprint(w, ":keepalive\n\n")
		return err
	case relaysync.MessageRecover:
		_, err := fmt.Fprint(w, "event: recover\ndata: {}\n\n")
		return err
	case relaysync.MessageMutation:
		data, err := json.Marshal(msg.Frame)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "id: %s\nevent: mutation\ndata: %s\n\n", msg.Frame.EventID, data)
		return err
	default:
		return nil
	}
}
