// Package botstate reads per-conversation soft state from the channel
// service: when the user was last active and whether notifications are
// currently welcome. The bridge only ever reads this state; the dialog
// layer owns the writes.
package botstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "supportbridge/pkg/logx"
)

// ErrNoState means the conversation has no recorded state yet. Callers
// treat this as "notifications allowed".
var ErrNoState = errors.New("botstate: no state recorded")

// State is the conversation's soft state.
type State struct {
	LastActivity       time.Time
	AllowNotifications bool
}

type Client struct {
	http *http.Client
	log  logx.Logger
}

func New(timeout time.Duration, log logx.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

type stateResponse struct {
	Data struct {
		LastActivity       string `json:"lastActivity"`
		AllowNotifications *bool  `json:"allowNotifications"`
	} `json:"data"`
}

// Fetch returns the current state for the given conversation, or ErrNoState
// if the channel service has nothing recorded for it.
func (c *Client) Fetch(ctx context.Context, serviceURL, channelID, conversationID string) (State, error) {
	base := strings.TrimRight(strings.TrimSpace(serviceURL), "/")
	if base == "" {
		return State{}, errors.New("botstate: service url is empty")
	}
	u := fmt.Sprintf("%s/v3/botstate/%s/conversations/%s",
		base, url.PathEscape(channelID), url.PathEscape(conversationID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return State{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return State{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return State{}, ErrNoState
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return State{}, fmt.Errorf("botstate: unexpected status %s", resp.Status)
	}

	var body stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return State{}, fmt.Errorf("botstate: decode: %w", err)
	}

	// Defaults mirror a conversation with no recorded state: active now,
	// notifications allowed.
	st := State{LastActivity: time.Now().UTC(), AllowNotifications: true}
	if body.Data.LastActivity != "" {
		if t, err := time.Parse(time.RFC3339, body.Data.LastActivity); err == nil {
			st.LastActivity = t
		} else {
			c.log.Debug("botstate: unparseable lastActivity", logx.String("value", body.Data.LastActivity))
		}
	}
	if body.Data.AllowNotifications != nil {
		st.AllowNotifications = *body.Data.AllowNotifications
	}
	return st, nil
}
