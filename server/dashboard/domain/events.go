package domain

import "encoding/json"

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Change-feed tables.
const (
	TableMessagesReceived = "messages_received"
	TableMessagesSent     = "messages_sent"
	TableContacts         = "contacts"
	TableTransfers        = "transfers"
)

// Event is one change-feed notification. New and Old carry the row as JSON,
// Old is only set for UPDATE and DELETE.
type Event struct {
	Table     string          `json:"table"`
	EventType EventType       `json:"eventType"`
	CompanyID string          `json:"company_id"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// NewEvent builds an event for row. For DELETE the row is carried in Old.
func NewEvent(table string, eventType EventType, companyID string, row any) (Event, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Table: table, EventType: eventType, CompanyID: companyID}
	if eventType == EventDelete {
		ev.Old = raw
	} else {
		ev.New = raw
	}
	return ev, nil
}

// Row returns the payload the event is about: New, or Old for deletes.
func (e Event) Row() json.RawMessage {
	if e.EventType == EventDelete || len(e.New) == 0 {
		return e.Old
	}
	return e.New
}

// Column reads a top-level string column from the event row. Numbers are
// returned in their JSON text form.
func (e Event) Column(name string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Row(), &fields); err != nil {
		return ""
	}
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}
