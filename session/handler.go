package session

import (
	supermaven "github.com/Paranoid-AF/supermaven"
	"github.com/Paranoid-AF/supermaven/suggest"
)

// Handler receives the agent's messages after routing. Calls are made from
// the goroutine running Session.Run, one at a time and in arrival order.
type Handler interface {
	// OnSuggestion is called for every barrier snapshot and final suggestion
	// of the current state id.
	OnSuggestion(s suggest.Suggestion)
	OnApology(message *string)
	OnActivationRequest(activateURL string)
	OnActivationSuccess()
	OnPopup(popup *supermaven.PopupMessage)
	OnTaskStatus(status *supermaven.TaskStatusMessage)
	OnActiveRepo(repoSimpleName string)
}

// NopHandler ignores every message. Embed it to implement only some callbacks.
type NopHandler struct{}

func (NopHandler) OnSuggestion(suggest.Suggestion)            {}
func (NopHandler) OnApology(*string)                          {}
func (NopHandler) OnActivationRequest(string)                 {}
func (NopHandler) OnActivationSuccess()                       {}
func (NopHandler) OnPopup(*supermaven.PopupMessage)           {}
func (NopHandler) OnTaskStatus(*supermaven.TaskStatusMessage) {}
func (NopHandler) OnActiveRepo(string)                        {}

var _ Handler = NopHandler{}
