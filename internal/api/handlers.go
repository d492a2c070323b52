package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dietfurt/kolpingbot/internal/messenger"
	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/go-chi/chi/v5/middleware"
)

// verifyHandler answers the Messenger subscription handshake.
func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := messenger.VerifyHandshake(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), s.opts.VerifyToken)
	if !ok {
		slog.Warn("Server.verifyHandler: validation failed", "mode", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	slog.Info("Server.verifyHandler: webhook validated")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// webhookHandler verifies and parses a Messenger callback and queues its events.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	reqID := middleware.GetReqID(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "request_id", reqID, "error", err)
		writeJSONResponse(w, r, http.StatusBadRequest, models.Error("Unreadable body"))
		return
	}

	if err := messenger.VerifySignature(s.opts.AppSecret, body,
		r.Header.Get(messenger.HeaderSignature256), r.Header.Get(messenger.HeaderSignature)); err != nil {
		slog.Warn("Server.webhookHandler: signature rejected", "request_id", reqID, "error", err)
		writeJSONResponse(w, r, http.StatusUnauthorized, models.Error("Invalid signature"))
		return
	}

	events, err := messenger.ParseCallback(body)
	if err != nil {
		if errors.Is(err, messenger.ErrNotPageObject) {
			slog.Warn("Server.webhookHandler: not a page callback", "request_id", reqID, "error", err)
			writeJSONResponse(w, r, http.StatusNotFound, models.Error("Unsupported object"))
			return
		}
		slog.Warn("Server.webhookHandler: failed to decode callback", "request_id", reqID, "error", err)
		writeJSONResponse(w, r, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	queued := 0
	for _, ev := range events {
		slog.Info("Server.webhookHandler: inbound event", "request_id", reqID, "event_id", ev.ID, "from", ev.SenderID, "has_payload", ev.Payload != "")
		if s.opts.Messenger.Enqueue(ev) {
			queued++
		}
	}
	writeJSONResponse(w, r, http.StatusOK, models.Success(map[string]int{"received": len(events), "queued": queued}))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	channels := []string{}
	if s.opts.Messenger != nil {
		channels = append(channels, string(models.ChannelMessenger))
	}
	if s.opts.TwilioHandler != nil {
		channels = append(channels, string(models.ChannelWhatsApp))
	}
	writeJSONResponse(w, r, http.StatusOK, models.Success(map[string]any{
		"channels": channels,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	}))
}
