package webhook

import (
	"encoding/json"

	"github.com/slack-go/slack"
)

// Kind names a payload variant
type Kind string

const (
	KindURLVerification   Kind = "url_verification"
	KindSlashCommand      Kind = "slash_command"
	KindEventCallback     Kind = "event_callback"
	KindInteractiveAction Kind = "interactive_action"
	KindUnknown           Kind = "unknown"
)

// Payload is a classified inbound request. The set of variants is closed.
type Payload interface {
	Kind() Kind
	isPayload()
}

// URLVerification is Slack's endpoint ownership challenge
type URLVerification struct {
	Challenge string
}

// SlashCommand is a form-encoded slash command invocation
type SlashCommand struct {
	Command     string
	Text        string
	UserID      string
	UserName    string
	TeamID      string
	ChannelID   string
	ResponseURL string
	TriggerID   string
}

// EventCallback is an Events API delivery. Event holds the inner event JSON.
type EventCallback struct {
	EventType string
	TeamID    string
	EventID   string
	Event     json.RawMessage
}

// InteractiveAction is a block action from a button or menu
type InteractiveAction struct {
	ActionID    string
	Value       string
	UserID      string
	TeamID      string
	ChannelID   string
	MessageTS   string
	ResponseURL string
	TriggerID   string
}

// Unknown is anything else. Err is set when the body failed to parse.
type Unknown struct {
	Raw []byte
	Err error
}

func (URLVerification) Kind() Kind   { return KindURLVerification }
func (SlashCommand) Kind() Kind      { return KindSlashCommand }
func (EventCallback) Kind() Kind     { return KindEventCallback }
func (InteractiveAction) Kind() Kind { return KindInteractiveAction }
func (Unknown) Kind() Kind           { return KindUnknown }

func (URLVerification) isPayload()   {}
func (SlashCommand) isPayload()      {}
func (EventCallback) isPayload()     {}
func (InteractiveAction) isPayload() {}
func (Unknown) isPayload()           {}

// FromSlashCommand converts a slash command delivered over Socket Mode
func FromSlashCommand(cmd slack.SlashCommand) SlashCommand {
	return SlashCommand{
		Command:     cmd.Command,
		Text:        cmd.Text,
		UserID:      cmd.UserID,
		UserName:    cmd.UserName,
		TeamID:      cmd.TeamID,
		ChannelID:   cmd.ChannelID,
		ResponseURL: cmd.ResponseURL,
		TriggerID:   cmd.TriggerID,
	}
}

// FromInteraction converts an interaction delivered over Socket Mode.
// Callbacks without a block action become Unknown.
func FromInteraction(cb slack.InteractionCallback) Payload {
	if len(cb.ActionCallback.BlockActions) == 0 || cb.ActionCallback.BlockActions[0] == nil {
		raw, _ := json.Marshal(cb)
		return Unknown{Raw: raw}
	}
	action := cb.ActionCallback.BlockActions[0]
	if action.ActionID == "" {
		raw, _ := json.Marshal(cb)
		return Unknown{Raw: raw}
	}
	return InteractiveAction{
		ActionID:    action.ActionID,
		Value:       action.Value,
		UserID:      cb.User.ID,
		TeamID:      cb.Team.ID,
		ChannelID:   cb.Channel.ID,
		MessageTS:   cb.Container.MessageTs,
		ResponseURL: cb.ResponseURL,
		TriggerID:   cb.TriggerID,
	}
}
