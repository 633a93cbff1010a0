package helpdesk

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	searchPath = "api/V1/getsearchresults"
	savePath   = "api/V1/savebusinessobject"

	// Business object ids used by the notification workflow. These are the
	// backend's stable object definition ids, not record ids.
	eventBusObID    = "946d1e9c5f8a4b0e8cfef4d35ab1d4fd2a68aa6b3c"
	incidentBusObID = "6dd53665c0c24cab86870a21cf6434ae"
)

// Field is one display-name/value pair from a business object's field list.
type Field struct {
	DisplayName string `json:"displayName"`
	Value       string `json:"value"`
}

// Event is one pending notification event reported by the backend.
type Event struct {
	PublicID string  `json:"busObPublicId"`
	RecordID string  `json:"busObRecId"`
	Fields   []Field `json:"fields"`
}

// FieldMap projects the flat field list into a display-name keyed map.
// Later duplicates win, matching the backend's own field ordering.
func (e Event) FieldMap() map[string]string {
	m := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		m[f.DisplayName] = f.Value
	}
	return m
}

type searchResult struct {
	BusinessObjects []Event `json:"businessObjects"`
}

type searchFilter struct {
	FieldID  string `json:"fieldId"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type searchRequest struct {
	BusObID    string         `json:"busObId"`
	Filters    []searchFilter `json:"filters,omitempty"`
	IncludeAll bool           `json:"includeAllFields"`
}

type saveField struct {
	DisplayName string `json:"displayName"`
	Value       string `json:"value"`
	Dirty       bool   `json:"dirty"`
}

type saveRequest struct {
	BusObID       string      `json:"busObId,omitempty"`
	BusObPublicID string      `json:"busObPublicId"`
	BusObRecID    string      `json:"busObRecId"`
	Persist       bool        `json:"persist"`
	Fields        []saveField `json:"fields"`
}

// SearchPendingEvents fetches all notification events the backend has not
// yet marked processed.
func (c *Client) SearchPendingEvents(ctx context.Context) ([]Event, error) {
	payload, err := json.Marshal(searchRequest{
		BusObID: eventBusObID,
		Filters: []searchFilter{
			{FieldID: "Processed", Operator: "eq", Value: "False"},
		},
		IncludeAll: true,
	})
	if err != nil {
		return nil, err
	}

	body, err := c.PostJSON(ctx, searchPath, payload)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}

	var result searchResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return nil, fmt.Errorf("search events: decode: %w", err)
	}
	return result.BusinessObjects, nil
}

// AcknowledgeEvent flips the event's processed flag so it is excluded from
// future polls. Safe to call once per successful dispatch.
func (c *Client) AcknowledgeEvent(ctx context.Context, publicID, recID string) error {
	payload, err := json.Marshal(saveRequest{
		BusObPublicID: publicID,
		BusObRecID:    recID,
		Persist:       true,
		Fields: []saveField{
			{DisplayName: "Processed", Value: "True", Dirty: true},
		},
	})
	if err != nil {
		return err
	}
	if _, err := c.PostJSON(ctx, savePath, payload); err != nil {
		return fmt.Errorf("acknowledge event %s/%s: %w", publicID, recID, err)
	}
	return nil
}
