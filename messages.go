package supermaven

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MaxPassthroughDepth is the deepest chain of passthrough wrappers accepted
// from the agent. The protocol gives no bound of its own.
const MaxPassthroughDepth = 16

// StateID names one point-in-time snapshot of the state shared with the agent.
// Ids are allocated in increasing order within a session. Zero means no state
// has been committed yet.
type StateID uint64

// ParseStateID parses the decimal wire form of a state id.
func ParseStateID(s string) (StateID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid state id %q: %w", s, err)
	}
	return StateID(v), nil
}

func (id StateID) String() string { return strconv.FormatUint(uint64(id), 10) }

// MarshalJSON encodes the id as a decimal string, which is what the agent expects in new_id.
func (id StateID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts both a decimal string and a bare JSON number.
func (id *StateID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	v, err := ParseStateID(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// --- Outbound ---

// StateUpdateKind is the fixed discriminant of every outbound state update.
const StateUpdateKind = "state_update"

// UpdateKind discriminates between the updates carried by a state update.
type UpdateKind string

const (
	UpdateKindFile           UpdateKind = "file_update"
	UpdateKindCursorPosition UpdateKind = "cursor_position_update"
)

// StateUpdate is one entry of StateUpdateMessage.Updates.
// Implemented by FileUpdate and CursorPositionUpdate.
type StateUpdate interface {
	UpdateKind() UpdateKind
}

// FileUpdate replaces the full content of a file in the agent's view.
type FileUpdate struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// UpdateKind returns UpdateKindFile.
func (u FileUpdate) UpdateKind() UpdateKind { return UpdateKindFile }

// MarshalJSON adds the kind tag.
func (u FileUpdate) MarshalJSON() ([]byte, error) {
	type alias FileUpdate
	return json.Marshal(struct {
		Kind UpdateKind `json:"kind"`
		alias
	}{UpdateKindFile, alias(u)})
}

// CursorPositionUpdate moves the cursor to a byte offset within a file.
type CursorPositionUpdate struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
}

// UpdateKind returns UpdateKindCursorPosition.
func (u CursorPositionUpdate) UpdateKind() UpdateKind { return UpdateKindCursorPosition }

// MarshalJSON adds the kind tag.
func (u CursorPositionUpdate) MarshalJSON() ([]byte, error) {
	type alias CursorPositionUpdate
	return json.Marshal(struct {
		Kind UpdateKind `json:"kind"`
		alias
	}{UpdateKindCursorPosition, alias(u)})
}

// StateUpdateMessage is the only message sent to the agent.
type StateUpdateMessage struct {
	Kind    string        `json:"kind"`
	NewID   StateID       `json:"new_id"`
	Updates []StateUpdate `json:"updates"`
}

// NewStateUpdateMessage builds a state update for the given id.
func NewStateUpdateMessage(id StateID, updates []StateUpdate) *StateUpdateMessage {
	if updates == nil {
		updates = []StateUpdate{}
	}
	return &StateUpdateMessage{Kind: StateUpdateKind, NewID: id, Updates: updates}
}

// Marshal serializes the message to a JSON line ready to write to the agent.
// The kind field is always StateUpdateKind regardless of m.Kind.
func (m StateUpdateMessage) Marshal() ([]byte, error) {
	m.Kind = StateUpdateKind
	if m.Updates == nil {
		m.Updates = []StateUpdate{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal StateUpdateMessage: %w", err)
	}
	return b, nil
}

// UnmarshalJSON decodes a state update, resolving each update by its kind tag.
func (m *StateUpdateMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind    string            `json:"kind"`
		NewID   StateID           `json:"new_id"`
		Updates []json.RawMessage `json:"updates"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Kind != StateUpdateKind {
		return fmt.Errorf("unexpected state update kind %q", raw.Kind)
	}
	updates := make([]StateUpdate, 0, len(raw.Updates))
	for i, u := range raw.Updates {
		parsed, err := parseStateUpdate(u)
		if err != nil {
			return fmt.Errorf("update %d: %w", i, err)
		}
		updates = append(updates, parsed)
	}
	m.Kind = raw.Kind
	m.NewID = raw.NewID
	m.Updates = updates
	return nil
}

func parseStateUpdate(data []byte) (StateUpdate, error) {
	var head struct {
		Kind UpdateKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Kind {
	case UpdateKindFile:
		var u FileUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("failed to parse file_update: %w", err)
		}
		return u, nil
	case UpdateKindCursorPosition:
		var u CursorPositionUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("failed to parse cursor_position_update: %w", err)
		}
		return u, nil
	default:
		return nil, fmt.Errorf("unknown update kind %q", head.Kind)
	}
}

// --- Response items ---

// ItemKind discriminates between response items.
type ItemKind string

const (
	ItemKindText    ItemKind = "text"
	ItemKindDel     ItemKind = "del"
	ItemKindDedent  ItemKind = "dedent"
	ItemKindEnd     ItemKind = "end"
	ItemKindBarrier ItemKind = "barrier"
)

// ResponseItem is one element of a streamed response.
// Implemented by TextItem, DelItem, DedentItem, EndItem and BarrierItem.
type ResponseItem interface {
	ItemKind() ItemKind
}

// TextItem inserts text at the current position.
type TextItem struct{ Text string }

// DelItem removes Text from immediately before the current position.
type DelItem struct{ Text string }

// DedentItem marks the next insertion point for indentation normalization.
type DedentItem struct{ Text string }

// EndItem terminates the response stream for its state id.
type EndItem struct{}

// BarrierItem marks a flush point; more items may follow.
type BarrierItem struct{}

func (TextItem) ItemKind() ItemKind    { return ItemKindText }
func (DelItem) ItemKind() ItemKind     { return ItemKindDel }
func (DedentItem) ItemKind() ItemKind  { return ItemKindDedent }
func (EndItem) ItemKind() ItemKind     { return ItemKindEnd }
func (BarrierItem) ItemKind() ItemKind { return ItemKindBarrier }

func (i TextItem) MarshalJSON() ([]byte, error)   { return json.Marshal(map[string]string{"Text": i.Text}) }
func (i DelItem) MarshalJSON() ([]byte, error)    { return json.Marshal(map[string]string{"Del": i.Text}) }
func (i DedentItem) MarshalJSON() ([]byte, error) { return json.Marshal(map[string]string{"Dedent": i.Text}) }
func (EndItem) MarshalJSON() ([]byte, error)      { return []byte(`"End"`), nil }
func (BarrierItem) MarshalJSON() ([]byte, error)  { return []byte(`"Barrier"`), nil }

// parseResponseItem accepts the externally tagged form ({"Text":"foo"}, "End")
// and the kind-tagged form ({"kind":"text","text":"foo"}, {"kind":"end"}).
func parseResponseItem(data []byte) (ResponseItem, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return nil, err
		}
		switch name {
		case "End":
			return EndItem{}, nil
		case "Barrier":
			return BarrierItem{}, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownResponseItem, name)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	if rawKind, ok := fields["kind"]; ok {
		var kind ItemKind
		if err := json.Unmarshal(rawKind, &kind); err != nil {
			return nil, err
		}
		var text string
		if rawText, ok := fields["text"]; ok {
			if err := json.Unmarshal(rawText, &text); err != nil {
				return nil, fmt.Errorf("item %s: %w", kind, err)
			}
		}
		switch kind {
		case ItemKindText:
			return TextItem{Text: text}, nil
		case ItemKindDel:
			return DelItem{Text: text}, nil
		case ItemKindDedent:
			return DedentItem{Text: text}, nil
		case ItemKindEnd:
			return EndItem{}, nil
		case ItemKindBarrier:
			return BarrierItem{}, nil
		}
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownResponseItem, kind)
	}

	if len(fields) != 1 {
		return nil, fmt.Errorf("%w: expected a single variant key, got %d", ErrUnknownResponseItem, len(fields))
	}
	for name, payload := range fields {
		switch name {
		case "End":
			return EndItem{}, nil
		case "Barrier":
			return BarrierItem{}, nil
		}
		var text string
		if err := json.Unmarshal(payload, &text); err != nil {
			return nil, fmt.Errorf("item %s: %w", name, err)
		}
		switch name {
		case "Text":
			return TextItem{Text: text}, nil
		case "Del":
			return DelItem{Text: text}, nil
		case "Dedent":
			return DedentItem{Text: text}, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownResponseItem, name)
	}
	return nil, ErrUnknownResponseItem
}

// Response is a batch of streamed items for one state id.
type Response struct {
	StateID StateID        `json:"state_id"`
	Items   []ResponseItem `json:"items"`
}

// UnmarshalJSON decodes the items array variant by variant.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		StateID StateID           `json:"state_id"`
		Items   []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	items := make([]ResponseItem, 0, len(raw.Items))
	for i, it := range raw.Items {
		item, err := parseResponseItem(it)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	r.StateID = raw.StateID
	r.Items = items
	return nil
}

// --- Inbound ---

// MessageKind discriminates between messages received from the agent.
type MessageKind string

const (
	KindResponse          MessageKind = "response"
	KindMetadata          MessageKind = "metadata"
	KindApology           MessageKind = "apology"
	KindActivationRequest MessageKind = "activation_request"
	KindActivationSuccess MessageKind = "activation_success"
	KindPassthrough       MessageKind = "passthrough"
	KindPopup             MessageKind = "popup"
	KindTaskStatus        MessageKind = "task_status"
	KindActiveRepo        MessageKind = "active_repo"
)

// MessageKinds lists every inbound message kind.
var MessageKinds = []MessageKind{
	KindResponse,
	KindMetadata,
	KindApology,
	KindActivationRequest,
	KindActivationSuccess,
	KindPassthrough,
	KindPopup,
	KindTaskStatus,
	KindActiveRepo,
}

// Message is the union of messages received from the agent.
type Message interface {
	Kind() MessageKind
}

// ResponseMessage carries streamed suggestion items.
type ResponseMessage struct {
	Response
}

// MetadataMessage carries agent metadata.
type MetadataMessage struct {
	DustStrings []string `json:"dust_strings"`
}

// ApologyMessage reports that the agent could not serve a request.
type ApologyMessage struct {
	Message *string `json:"message"`
}

// ActivationRequestMessage asks the user to activate the agent at ActivateURL.
type ActivationRequestMessage struct {
	ActivateURL string `json:"activate_url"`
}

// ActivationSuccessMessage reports a completed activation.
type ActivationSuccessMessage struct{}

// PassthroughMessage wraps another message one level deep.
type PassthroughMessage struct {
	Inner Message
}

// TaskStatus is the state of a long-running agent task.
type TaskStatus string

const (
	TaskStatusInProgress TaskStatus = "InProgress"
	TaskStatusComplete   TaskStatus = "Complete"
)

// UnmarshalJSON rejects statuses the agent is not known to send.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch TaskStatus(v) {
	case TaskStatusInProgress, TaskStatusComplete:
		*s = TaskStatus(v)
		return nil
	}
	return fmt.Errorf("unknown task status %q", v)
}

// TaskStatusMessage reports progress of an agent task such as repository indexing.
type TaskStatusMessage struct {
	Task            string     `json:"task"`
	Status          TaskStatus `json:"status"`
	PercentComplete *float32   `json:"percent_complete"`
}

// ActiveRepoMessage names the repository the agent is working in.
type ActiveRepoMessage struct {
	RepoSimpleName string `json:"repo_simple_name"`
}

// PopupAction is a button offered by a popup.
// Implemented by OpenURLAction and NoOpAction.
type PopupAction interface {
	ActionLabel() string
}

// OpenURLAction opens URL when chosen.
type OpenURLAction struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// NoOpAction dismisses the popup.
type NoOpAction struct {
	Label string `json:"label"`
}

func (a OpenURLAction) ActionLabel() string { return a.Label }
func (a NoOpAction) ActionLabel() string    { return a.Label }

func (a OpenURLAction) MarshalJSON() ([]byte, error) {
	type alias OpenURLAction
	return json.Marshal(map[string]alias{"OpenUrl": alias(a)})
}

func (a NoOpAction) MarshalJSON() ([]byte, error) {
	type alias NoOpAction
	return json.Marshal(map[string]alias{"NoOp": alias(a)})
}

// PopupMessage asks the editor to show a message with actions.
type PopupMessage struct {
	Message string        `json:"message"`
	Actions []PopupAction `json:"actions"`
}

// UnmarshalJSON decodes each action by its variant key.
func (p *PopupMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Message string                       `json:"message"`
		Actions []map[string]json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	actions := make([]PopupAction, 0, len(raw.Actions))
	for i, a := range raw.Actions {
		if len(a) != 1 {
			return fmt.Errorf("action %d: expected a single variant key, got %d", i, len(a))
		}
		for name, payload := range a {
			switch name {
			case "OpenUrl":
				var act OpenURLAction
				if err := json.Unmarshal(payload, &act); err != nil {
					return fmt.Errorf("action %d: %w", i, err)
				}
				actions = append(actions, act)
			case "NoOp":
				var act NoOpAction
				if err := json.Unmarshal(payload, &act); err != nil {
					return fmt.Errorf("action %d: %w", i, err)
				}
				actions = append(actions, act)
			default:
				return fmt.Errorf("action %d: unknown popup action %q", i, name)
			}
		}
	}
	p.Message = raw.Message
	p.Actions = actions
	return nil
}

func (m ResponseMessage) Kind() MessageKind          { return KindResponse }
func (m MetadataMessage) Kind() MessageKind          { return KindMetadata }
func (m ApologyMessage) Kind() MessageKind           { return KindApology }
func (m ActivationRequestMessage) Kind() MessageKind { return KindActivationRequest }
func (m ActivationSuccessMessage) Kind() MessageKind { return KindActivationSuccess }
func (m PassthroughMessage) Kind() MessageKind       { return KindPassthrough }
func (m PopupMessage) Kind() MessageKind             { return KindPopup }
func (m TaskStatusMessage) Kind() MessageKind        { return KindTaskStatus }
func (m ActiveRepoMessage) Kind() MessageKind        { return KindActiveRepo }

// The MarshalJSON methods below produce the same shape ParseMessage reads.

func (m ResponseMessage) MarshalJSON() ([]byte, error) {
	items := m.Items
	if items == nil {
		items = []ResponseItem{}
	}
	return marshalTagged(KindResponse, struct {
		StateID StateID        `json:"state_id"`
		Items   []ResponseItem `json:"items"`
	}{m.StateID, items})
}

func (m MetadataMessage) MarshalJSON() ([]byte, error) {
	type alias MetadataMessage
	return marshalTagged(KindMetadata, alias(m))
}

func (m ApologyMessage) MarshalJSON() ([]byte, error) {
	type alias ApologyMessage
	return marshalTagged(KindApology, alias(m))
}

func (m ActivationRequestMessage) MarshalJSON() ([]byte, error) {
	type alias ActivationRequestMessage
	return marshalTagged(KindActivationRequest, alias(m))
}

func (m ActivationSuccessMessage) MarshalJSON() ([]byte, error) {
	return marshalTagged(KindActivationSuccess, struct{}{})
}

func (m PassthroughMessage) MarshalJSON() ([]byte, error) {
	if m.Inner == nil {
		return nil, fmt.Errorf("marshal passthrough: nil inner message")
	}
	return marshalTagged(KindPassthrough, struct {
		Passthrough Message `json:"passthrough"`
	}{m.Inner})
}

func (m PopupMessage) MarshalJSON() ([]byte, error) {
	actions := m.Actions
	if actions == nil {
		actions = []PopupAction{}
	}
	return marshalTagged(KindPopup, struct {
		Message string        `json:"message"`
		Actions []PopupAction `json:"actions"`
	}{m.Message, actions})
}

func (m TaskStatusMessage) MarshalJSON() ([]byte, error) {
	type alias TaskStatusMessage
	return marshalTagged(KindTaskStatus, alias(m))
}

func (m ActiveRepoMessage) MarshalJSON() ([]byte, error) {
	type alias ActiveRepoMessage
	return marshalTagged(KindActiveRepo, alias(m))
}

// marshalTagged encodes v, which must encode as a JSON object, with a leading kind field.
func marshalTagged(kind MessageKind, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("marshal %s: payload is not an object", kind)
	}
	tag, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(tag)+9)
	out = append(out, `{"kind":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}

// ParseMessage parses one line of agent output into a typed message.
// Passthrough wrappers are kept; see Unwrap and DecodeMessage.
func ParseMessage(line []byte) (Message, error) {
	msg, err := parseMessage(line, 0)
	if err != nil {
		return nil, &DecodeError{Line: string(line), Cause: err}
	}
	return msg, nil
}

// DecodeMessage parses a line and unwraps any passthrough chain.
func DecodeMessage(line []byte) (Message, error) {
	msg, err := ParseMessage(line)
	if err != nil {
		return nil, err
	}
	inner, err := Unwrap(msg)
	if err != nil {
		return nil, &DecodeError{Line: string(line), Cause: err}
	}
	return inner, nil
}

// Unwrap follows passthrough wrappers to the innermost message.
// Chains longer than MaxPassthroughDepth fail with ErrPassthroughTooDeep.
func Unwrap(msg Message) (Message, error) {
	for depth := 0; ; depth++ {
		p, ok := asPassthrough(msg)
		if !ok {
			return msg, nil
		}
		if depth >= MaxPassthroughDepth {
			return nil, ErrPassthroughTooDeep
		}
		if p.Inner == nil {
			return nil, fmt.Errorf("passthrough at depth %d has no inner message", depth+1)
		}
		msg = p.Inner
	}
}

func asPassthrough(msg Message) (PassthroughMessage, bool) {
	switch p := msg.(type) {
	case *PassthroughMessage:
		if p == nil {
			return PassthroughMessage{}, true
		}
		return *p, true
	case PassthroughMessage:
		return p, true
	}
	return PassthroughMessage{}, false
}

func parseMessage(data []byte, depth int) (Message, error) {
	var head struct {
		Kind *MessageKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse message kind: %w", err)
	}
	if head.Kind == nil {
		return nil, ErrMissingKind
	}

	switch *head.Kind {
	case KindResponse:
		var r Response
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to parse response message: %w", err)
		}
		return &ResponseMessage{Response: r}, nil

	case KindMetadata:
		var m MetadataMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse metadata message: %w", err)
		}
		return &m, nil

	case KindApology:
		var m ApologyMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse apology message: %w", err)
		}
		return &m, nil

	case KindActivationRequest:
		var m ActivationRequestMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse activation_request message: %w", err)
		}
		return &m, nil

	case KindActivationSuccess:
		return &ActivationSuccessMessage{}, nil

	case KindPassthrough:
		if depth >= MaxPassthroughDepth {
			return nil, ErrPassthroughTooDeep
		}
		var p struct {
			Passthrough json.RawMessage `json:"passthrough"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse passthrough message: %w", err)
		}
		if len(p.Passthrough) == 0 || bytes.Equal(p.Passthrough, []byte("null")) {
			return nil, fmt.Errorf("passthrough message has no inner message")
		}
		inner, err := parseMessage(p.Passthrough, depth+1)
		if err != nil {
			return nil, err
		}
		return &PassthroughMessage{Inner: inner}, nil

	case KindPopup:
		var m PopupMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse popup message: %w", err)
		}
		return &m, nil

	case KindTaskStatus:
		var m TaskStatusMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse task_status message: %w", err)
		}
		return &m, nil

	case KindActiveRepo:
		var m ActiveRepoMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse active_repo message: %w", err)
		}
		return &m, nil

	default:
		return nil, &UnknownMessageKindError{Kind: string(*head.Kind)}
	}
}
