package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is one of the closed set of authentication events
type EventType string

const (
	EventLoginSuccess                EventType = "LOGIN_SUCCESS"
	EventLoginSuccessWhitelist       EventType = "LOGIN_SUCCESS_WHITELIST"
	EventLoginSuccessWhitelistBypass EventType = "LOGIN_SUCCESS_WHITELIST_BYPASS"
	EventLoginRejectedDomain         EventType = "LOGIN_REJECTED_DOMAIN"
	EventLoginRateLimited            EventType = "LOGIN_RATE_LIMITED"
	EventLoginError                  EventType = "LOGIN_ERROR"
	EventLoginCallbackSuccess        EventType = "LOGIN_CALLBACK_SUCCESS"
	EventLoginCallbackError          EventType = "LOGIN_CALLBACK_ERROR"
	EventLoginFailure                EventType = "LOGIN_FAILURE"
	EventLogoutInitiated             EventType = "LOGOUT_INITIATED"
	EventLogoutSuccess               EventType = "LOGOUT_SUCCESS"
	EventLogoutError                 EventType = "LOGOUT_ERROR"
	EventProfileAccessed             EventType = "PROFILE_ACCESSED"
	EventAccessRequestSubmitted      EventType = "ACCESS_REQUEST_SUBMITTED"
	EventAccessRequestUpdated        EventType = "ACCESS_REQUEST_UPDATED"
)

var eventTypes = map[EventType]struct{}{
	EventLoginSuccess:                {},
	EventLoginSuccessWhitelist:       {},
	EventLoginSuccessWhitelistBypass: {},
	EventLoginRejectedDomain:         {},
	EventLoginRateLimited:            {},
	EventLoginError:                  {},
	EventLoginCallbackSuccess:        {},
	EventLoginCallbackError:          {},
	EventLoginFailure:                {},
	EventLogoutInitiated:             {},
	EventLogoutSuccess:               {},
	EventLogoutError:                 {},
	EventProfileAccessed:             {},
	EventAccessRequestSubmitted:      {},
	EventAccessRequestUpdated:        {},
}

// Valid reports whether t belongs to the closed set
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// ParseEventType validates a raw event type name
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

// Entry is one append-only auth log row.
//
// UserRef is what the caller knew about the user: a durable UUID, a provider
// subject id or an email. The DB logger resolves it into UserID.
type Entry struct {
	ID         int64                  `json:"id"`
	EventType  EventType              `json:"event_type"`
	Message    string                 `json:"message"`
	Identifier string                 `json:"identifier"`
	UserRef    string                 `json:"-"`
	UserID     *uuid.UUID             `json:"user_id,omitempty"`
	Path       string                 `json:"path"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// SearchFilter narrows an auth log search
type SearchFilter struct {
	EventTypes []EventType
	Identifier string
	UserID     *uuid.UUID
	StartTime  *time.Time
	EndTime    *time.Time

	Limit  int
	Offset int
}

// Stats summarizes auth log volume over a time range
type Stats struct {
	TotalEvents       int64               `json:"total_events"`
	EventsByType      map[EventType]int64 `json:"events_by_type"`
	UniqueIdentifiers int64               `json:"unique_identifiers"`
	StartTime         *time.Time          `json:"start_time,omitempty"`
	EndTime           *time.Time          `json:"end_time,omitempty"`
}

// ExportFormat represents the format for exporting auth logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)
