// Package api provides HTTP handlers for IntakePipe endpoints.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeTextResponse(w, http.StatusOK, "ok")
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowPost(w, r, "Server.eventsHandler") {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("Server.eventsHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, Error("Unreadable body"))
		return
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		slog.Warn("Server.eventsHandler: failed to parse event", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, Error("Invalid event payload"))
		return
	}

	if ev.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, Error("Invalid challenge"))
			return
		}
		slog.Info("Server.eventsHandler: answered URL verification")
		writeTextResponse(w, http.StatusOK, challenge.Challenge)
		return
	}

	if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
		slog.Debug("Server.eventsHandler: retried delivery", "retry", retry, "reason", r.Header.Get("X-Slack-Retry-Reason"))
	}
	if err := s.router.HandleEvent(r.Context(), ev); err != nil {
		// A 5xx makes Slack redeliver, which is what a failed dedup write needs.
		slog.Error("Server.eventsHandler: event not accepted", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, Error("Event not accepted"))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) commandsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowPost(w, r, "Server.commandsHandler") {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		slog.Warn("Server.commandsHandler: failed to parse command", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, Error("Invalid command payload"))
		return
	}

	text := s.router.HandleCommand(r.Context(), cmd)
	if text == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSONResponse(w, http.StatusOK, slack.Msg{ResponseType: slack.ResponseTypeEphemeral, Text: text})
}

func (s *Server) interactionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowPost(w, r, "Server.interactionsHandler") {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.interactionsHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, Error("Invalid form"))
		return
	}
	payload := r.PostFormValue("payload")
	if payload == "" {
		writeJSONResponse(w, http.StatusBadRequest, Error("Missing payload"))
		return
	}

	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &cb); err != nil {
		slog.Warn("Server.interactionsHandler: failed to decode payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, Error("Invalid interaction payload"))
		return
	}
	if err := s.router.HandleInteraction(r.Context(), cb); err != nil {
		slog.Error("Server.interactionsHandler: interaction failed", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

func allowPost(w http.ResponseWriter, r *http.Request, op string) bool {
	if r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", http.MethodPost)
	slog.Warn(op+": method not allowed", "method", r.Method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}
