package api

import (
	"net/http"
	"strings"
)

type chatRequest struct {
	Message   string `json:"message"`
	ChartData any    `json:"chart_data"`
	TableInfo any    `json:"table_info"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat is not configured", false, nil)
		return
	}
	var req chatRequest
	if !decodeRequest(w, r, &req, "invalid chat request body") {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	reply, err := deps.Assistant.Reply(r.Context(), req.Message, req.ChartData, req.TableInfo)
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "chat failed", "error", err)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_FAILED", "Failed to process chat message", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": reply})
}
