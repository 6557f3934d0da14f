package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ghabxph/starship/internal/apierr"
)

const (
	mondayService       = "monday"
	defaultPeopleColumn = "person"
)

// Monday creates items on a Monday.com board through the GraphQL API
type Monday struct {
	httpClient   *http.Client
	apiURL       string
	token        string
	boardID      string
	peopleColumn string
	backoff      time.Duration
}

// NewMonday returns a client for boardID. An empty peopleColumn selects
// the board's default "person" column.
func NewMonday(httpClient *http.Client, apiURL, token, boardID, peopleColumn string, backoff time.Duration) *Monday {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if peopleColumn == "" {
		peopleColumn = defaultPeopleColumn
	}
	return &Monday{
		httpClient:   httpClient,
		apiURL:       apiURL,
		token:        token,
		boardID:      boardID,
		peopleColumn: peopleColumn,
		backoff:      backoff,
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	ErrorMessage string `json:"error_message"`
}

func (m *Monday) do(ctx context.Context, op, query string, vars map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return apierr.Wrap(mondayService, op, err)
	}
	req.Header.Set("Authorization", m.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return apierr.Wrap(mondayService, op, err)
	}
	defer resp.Body.Close()

	var gr graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return apierr.WrapStatus(mondayService, op, resp.StatusCode, fmt.Errorf("invalid response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return apierr.WrapStatus(mondayService, op, resp.StatusCode, fmt.Errorf("%s", gr.message()))
	}
	if len(gr.Errors) > 0 || gr.ErrorMessage != "" {
		return apierr.WrapStatus(mondayService, op, resp.StatusCode, fmt.Errorf("%s", gr.message()))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return apierr.Wrap(mondayService, op, fmt.Errorf("invalid data: %w", err))
	}
	return nil
}

func (gr graphQLResponse) message() string {
	var msgs []string
	if gr.ErrorMessage != "" {
		msgs = append(msgs, gr.ErrorMessage)
	}
	for _, e := range gr.Errors {
		msgs = append(msgs, e.Message)
	}
	if len(msgs) == 0 {
		return "unexpected response"
	}
	return strings.Join(msgs, "; ")
}

const createItemMutation = `mutation ($boardId: ID!, $itemName: String!, $columnValues: JSON) {
  create_item(board_id: $boardId, item_name: $itemName, column_values: $columnValues) { id name url }
}`

const createUpdateMutation = `mutation ($itemId: ID!, $body: String!) {
  create_update(item_id: $itemId, body: $body) { id }
}`

func (m *Monday) CreateTicket(ctx context.Context, req CreateRequest) (*Ticket, error) {
	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		return nil, ErrEmptySummary
	}

	vars := map[string]interface{}{
		"boardId":  m.boardID,
		"itemName": summary,
	}
	if req.AssigneeID != "" {
		cols, err := m.peopleValue(req.AssigneeID)
		if err != nil {
			return nil, err
		}
		vars["columnValues"] = cols
	}

	var out struct {
		CreateItem struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"create_item"`
	}
	if err := m.do(ctx, "create item", createItemMutation, vars, &out); err != nil {
		return nil, err
	}

	t := &Ticket{
		Key:     out.CreateItem.ID,
		ID:      out.CreateItem.ID,
		URL:     out.CreateItem.URL,
		Summary: summary,
	}

	// The description goes into the item's first update; the item already exists
	if req.Description != "" {
		vars := map[string]interface{}{"itemId": t.ID, "body": req.Description}
		if err := m.do(ctx, "create update", createUpdateMutation, vars, nil); err != nil {
			return t, fmt.Errorf("%w: item %s has no description: %w", ErrPartiallyCreated, t.ID, err)
		}
	}
	return t, nil
}

const searchUsersQuery = `query ($name: String) { users(name: $name, limit: 5) { id name email enabled } }`

func (m *Monday) SearchUser(ctx context.Context, query string) (*User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var out struct {
		Users []struct {
			ID      json.Number `json:"id"`
			Name    string      `json:"name"`
			Email   string      `json:"email"`
			Enabled bool        `json:"enabled"`
		} `json:"users"`
	}
	err := apierr.RetryIdempotent(ctx, m.backoff, func(ctx context.Context) error {
		return m.do(ctx, "search users", searchUsersQuery, map[string]interface{}{"name": query}, &out)
	})
	if err != nil {
		return nil, err
	}

	for _, u := range out.Users {
		if u.Enabled {
			return &User{ID: u.ID.String(), DisplayName: u.Name, Email: u.Email}, nil
		}
	}
	return nil, nil
}

const changeColumnMutation = `mutation ($boardId: ID!, $itemId: ID!, $columnId: String!, $value: JSON!) {
  change_column_value(board_id: $boardId, item_id: $itemId, column_id: $columnId, value: $value) { id }
}`

func (m *Monday) AssignTicket(ctx context.Context, key, userID string) (bool, error) {
	person, err := personValue(userID)
	if err != nil {
		return false, err
	}
	vars := map[string]interface{}{
		"boardId":  m.boardID,
		"itemId":   key,
		"columnId": m.peopleColumn,
		"value":    person,
	}
	if err := m.do(ctx, "assign item", changeColumnMutation, vars, nil); err != nil {
		return false, err
	}
	return true, nil
}

// peopleValue encodes column_values with the people column set
func (m *Monday) peopleValue(userID string) (string, error) {
	person, err := personValue(userID)
	if err != nil {
		return "", err
	}
	raw, _ := json.Marshal(map[string]json.RawMessage{m.peopleColumn: json.RawMessage(person)})
	return string(raw), nil
}

func personValue(userID string) (string, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid monday user id %q", userID)
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"personsAndTeams": []map[string]interface{}{{"id": id, "kind": "person"}},
	})
	return string(raw), nil
}
