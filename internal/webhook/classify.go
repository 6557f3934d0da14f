package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

var ErrEmptyBody = errors.New("empty body")

type envelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	TeamID    string          `json:"team_id"`
	EventID   string          `json:"event_id"`
	Event     json.RawMessage `json:"event"`
}

type innerEvent struct {
	Type string `json:"type"`
}

type interaction struct {
	Type        string `json:"type"`
	ResponseURL string `json:"response_url"`
	TriggerID   string `json:"trigger_id"`
	User        struct {
		ID string `json:"id"`
	} `json:"user"`
	Team struct {
		ID string `json:"id"`
	} `json:"team"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Container struct {
		MessageTS string `json:"message_ts"`
		ChannelID string `json:"channel_id"`
	} `json:"container"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// Classify maps a request body to exactly one Payload variant.
// The first matching rule wins:
//  1. JSON with type url_verification
//  2. form with a command field
//  3. JSON with type event_callback
//  4. form payload (or JSON) carrying a block action with an action_id
//  5. Unknown
//
// Classify never fails; parse errors are carried on Unknown.
func Classify(body []byte) Payload {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Unknown{Raw: body, Err: ErrEmptyBody}
	}

	isJSON := trimmed[0] == '{'

	var (
		env     envelope
		jsonErr error
		form    url.Values
		formErr error
	)
	if isJSON {
		jsonErr = json.Unmarshal(trimmed, &env)
	} else {
		form, formErr = url.ParseQuery(string(trimmed))
	}

	if isJSON && jsonErr == nil && env.Type == "url_verification" {
		return URLVerification{Challenge: env.Challenge}
	}

	if formErr == nil && form.Get("command") != "" {
		return SlashCommand{
			Command:     form.Get("command"),
			Text:        form.Get("text"),
			UserID:      form.Get("user_id"),
			UserName:    form.Get("user_name"),
			TeamID:      form.Get("team_id"),
			ChannelID:   form.Get("channel_id"),
			ResponseURL: form.Get("response_url"),
			TriggerID:   form.Get("trigger_id"),
		}
	}

	if isJSON && jsonErr == nil && env.Type == "event_callback" {
		var inner innerEvent
		if len(env.Event) > 0 {
			if err := json.Unmarshal(env.Event, &inner); err != nil {
				return Unknown{Raw: body, Err: fmt.Errorf("invalid inner event: %w", err)}
			}
		}
		return EventCallback{
			EventType: inner.Type,
			TeamID:    env.TeamID,
			EventID:   env.EventID,
			Event:     env.Event,
		}
	}

	var interactiveJSON []byte
	switch {
	case isJSON && jsonErr == nil:
		interactiveJSON = trimmed
	case formErr == nil && form.Get("payload") != "":
		interactiveJSON = []byte(form.Get("payload"))
	}
	if interactiveJSON != nil {
		action, err := decodeInteraction(interactiveJSON)
		if err != nil {
			return Unknown{Raw: body, Err: err}
		}
		if action != nil {
			return *action
		}
	}

	switch {
	case jsonErr != nil:
		return Unknown{Raw: body, Err: fmt.Errorf("invalid json body: %w", jsonErr)}
	case formErr != nil:
		return Unknown{Raw: body, Err: fmt.Errorf("invalid form body: %w", formErr)}
	}
	return Unknown{Raw: body}
}

func decodeInteraction(raw []byte) (*InteractiveAction, error) {
	var cb interaction
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("invalid interaction payload: %w", err)
	}
	if len(cb.Actions) == 0 || cb.Actions[0].ActionID == "" {
		return nil, nil
	}
	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	return &InteractiveAction{
		ActionID:    cb.Actions[0].ActionID,
		Value:       cb.Actions[0].Value,
		UserID:      cb.User.ID,
		TeamID:      cb.Team.ID,
		ChannelID:   channelID,
		MessageTS:   cb.Container.MessageTS,
		ResponseURL: cb.ResponseURL,
		TriggerID:   cb.TriggerID,
	}, nil
}
