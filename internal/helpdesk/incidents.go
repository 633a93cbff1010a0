package helpdesk

import (
	"context"
	"encoding/json"
	"fmt"
)

// Ticket operations used by the conversational surface. These sit outside
// the poll loop but share the same authenticated client.

// IncidentsForCustomer returns the raw search result listing the customer's
// open incidents.
func (c *Client) IncidentsForCustomer(ctx context.Context, customerName string) (string, error) {
	payload, err := json.Marshal(searchRequest{
		BusObID: incidentBusObID,
		Filters: []searchFilter{
			{FieldID: "CustomerDisplayName", Operator: "eq", Value: customerName},
		},
		IncludeAll: true,
	})
	if err != nil {
		return "", err
	}
	body, err := c.PostJSON(ctx, searchPath, payload)
	if err != nil {
		return "", fmt.Errorf("incident list for %q: %w", customerName, err)
	}
	return body, nil
}

// Incident returns the raw search result for one incident owned by the
// customer, keyed by its public id.
func (c *Client) Incident(ctx context.Context, customerName, publicID string) (string, error) {
	payload, err := json.Marshal(searchRequest{
		BusObID: incidentBusObID,
		Filters: []searchFilter{
			{FieldID: "CustomerDisplayName", Operator: "eq", Value: customerName},
			{FieldID: "PublicID", Operator: "eq", Value: publicID},
		},
		IncludeAll: true,
	})
	if err != nil {
		return "", err
	}
	body, err := c.PostJSON(ctx, searchPath, payload)
	if err != nil {
		return "", fmt.Errorf("incident %s for %q: %w", publicID, customerName, err)
	}
	return body, nil
}

// CreateIncident opens a new incident on behalf of the customer and returns
// the backend's save response (which carries the new public id).
func (c *Client) CreateIncident(ctx context.Context, description, customerName string) (string, error) {
	payload, err := json.Marshal(saveRequest{
		BusObID: incidentBusObID,
		Persist: true,
		Fields: []saveField{
			{DisplayName: "Description", Value: description, Dirty: true},
			{DisplayName: "CustomerDisplayName", Value: customerName, Dirty: true},
		},
	})
	if err != nil {
		return "", err
	}
	body, err := c.PostJSON(ctx, savePath, payload)
	if err != nil {
		return "", fmt.Errorf("create incident: %w", err)
	}
	return body, nil
}

// AddComment appends a customer comment to an existing ticket.
func (c *Client) AddComment(ctx context.Context, busObID, publicID, recID, text string) error {
	payload, err := json.Marshal(saveRequest{
		BusObID:       busObID,
		BusObPublicID: publicID,
		BusObRecID:    recID,
		Persist:       true,
		Fields: []saveField{
			{DisplayName: "Comments", Value: text, Dirty: true},
		},
	})
	if err != nil {
		return err
	}
	if _, err := c.PostJSON(ctx, savePath, payload); err != nil {
		return fmt.Errorf("add comment to %s: %w", publicID, err)
	}
	return nil
}

// WithdrawTicket closes a ticket at the customer's request.
func (c *Client) WithdrawTicket(ctx context.Context, busObID, publicID, recID string) error {
	payload, err := json.Marshal(saveRequest{
		BusObID:       busObID,
		BusObPublicID: publicID,
		BusObRecID:    recID,
		Persist:       true,
		Fields: []saveField{
			{DisplayName: "Status", Value: "Withdrawn", Dirty: true},
		},
	})
	if err != nil {
		return err
	}
	if _, err := c.PostJSON(ctx, savePath, payload); err != nil {
		return fmt.Errorf("withdraw ticket %s: %w", publicID, err)
	}
	return nil
}
