package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"localchat/cmd/identity/ids"
	v1 "localchat/shared/contracts/realtime/v1"
)

const eventsKeyHeader = "X-Localchat-Events-Key"

var errInvalidEvent = errors.New("invalid event")

// handleEvents lets the messaging application push persisted messages and read
// receipts to live connections. Delivery is best-effort; the response only
// reports how many connections accepted the frame.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.cfg.EventsKey == "" {
		writeError(w, http.StatusNotFound, "not_found", "events endpoint disabled")
		return
	}
	if !secureStringEqual(strings.TrimSpace(r.Header.Get(eventsKeyHeader)), h.cfg.EventsKey) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid events key")
		return
	}

	var req eventRequest
	if err := decodeJSON(w, r, h.cfg.EventsMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	env, messageID, err := h.buildEventEnvelope(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}

	var n int
	if target := strings.TrimSpace(req.TargetUserID); target != "" {
		n = h.router.NotifyUser(target, env)
	} else {
		n = h.router.NotifyGroup(strings.TrimSpace(req.GroupID), env, strings.TrimSpace(req.ExcludeConnectionID))
	}

	h.log.Debug("events.publish.ok", "type", req.Type, "group_id", req.GroupID, "delivered", n)
	writeJSON(w, http.StatusAccepted, eventResponse{Delivered: n, MessageID: messageID})
}

func (h *Handler) buildEventEnvelope(req *eventRequest) (v1.Envelope, string, error) {
	// A user-targeted event (a direct message or a receipt for its author) may omit the group.
	groupID := strings.TrimSpace(req.GroupID)
	if groupID == "" && strings.TrimSpace(req.TargetUserID) == "" {
		return v1.Envelope{}, "", fmt.Errorf("%w: group_id or target_user_id is required", errInvalidEvent)
	}
	now := h.now().UTC()

	switch req.Type {
	case v1.TypeNewMessage:
		senderID := strings.TrimSpace(req.SenderID)
		if senderID == "" {
			return v1.Envelope{}, "", fmt.Errorf("%w: sender_id is required", errInvalidEvent)
		}
		messageID := strings.TrimSpace(req.MessageID)
		if messageID == "" {
			messageID = ids.MustULID(now)
		}
		createdAt := req.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		f := v1.NewMessage(v1.NewMessageFrame{
			MessageID:   messageID,
			GroupID:     groupID,
			SenderID:    senderID,
			SenderName:  strings.TrimSpace(req.SenderName),
			Content:     req.Content,
			MessageKind: strings.TrimSpace(req.MessageType),
			CreatedAt:   createdAt.UTC(),
		})
		env, err := v1.Encode(f.Type, f)
		return env, messageID, err

	case v1.TypeMessagesRead:
		readerID := strings.TrimSpace(req.ReaderID)
		if readerID == "" {
			return v1.Envelope{}, "", fmt.Errorf("%w: reader_id is required", errInvalidEvent)
		}
		readAt := req.ReadAt
		if readAt.IsZero() {
			readAt = now
		}
		f := v1.NewMessagesRead(v1.MessagesReadFrame{
			GroupID:    groupID,
			ReaderID:   readerID,
			MessageIDs: req.MessageIDs,
			ReadAt:     readAt.UTC(),
		})
		env, err := v1.Encode(f.Type, f)
		return env, "", err

	default:
		return v1.Envelope{}, "", fmt.Errorf("%w: unsupported type", errInvalidEvent)
	}
}
