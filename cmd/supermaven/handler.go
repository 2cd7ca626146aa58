package main

import (
	"log/slog"

	supermaven "github.com/Paranoid-AF/supermaven"
	"github.com/Paranoid-AF/supermaven/session"
	"github.com/Paranoid-AF/supermaven/suggest"
)

// printHandler reports agent messages to the user.
type printHandler struct {
	session.NopHandler
	out       *output
	logger    *slog.Logger
	snapshots bool // also print barrier snapshots
}

func (h *printHandler) OnSuggestion(s suggest.Suggestion) {
	if h.out == nil || (!s.Final && !h.snapshots) {
		return
	}
	if err := h.out.Suggestion(s); err != nil {
		h.logger.Warn("failed to print suggestion", "error", err)
	}
}

func (h *printHandler) OnApology(message *string) {
	if message != nil {
		h.logger.Warn("agent apology", "message", *message)
		return
	}
	h.logger.Warn("agent apology")
}

func (h *printHandler) OnActivationRequest(url string) {
	h.logger.Info("agent requires activation; open the URL to continue", "url", url)
}

func (h *printHandler) OnActivationSuccess() {
	h.logger.Info("agent activated")
}

func (h *printHandler) OnPopup(p *supermaven.PopupMessage) {
	labels := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		labels = append(labels, a.ActionLabel())
	}
	h.logger.Info("agent popup", "message", p.Message, "actions", labels)
}

func (h *printHandler) OnTaskStatus(s *supermaven.TaskStatusMessage) {
	attrs := []any{"task", s.Task, "status", s.Status}
	if s.PercentComplete != nil {
		attrs = append(attrs, "percent", *s.PercentComplete)
	}
	h.logger.Debug("agent task", attrs...)
}

func (h *printHandler) OnActiveRepo(name string) {
	h.logger.Info("active repository", "repo", name)
}
