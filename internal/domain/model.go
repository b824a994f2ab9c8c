package domain

import (
	"encoding/json"
	"errors"
	"sort"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrEntityNotFound  = errors.New("unable to update a non existing entity")
	ErrEntityImmutable = errors.New("entity is immutable")
	ErrNoBase          = errors.New("registry base not found")
)

type Action string

const (
	ActionRegistryChange      Action = "registry-change"
	ActionEntityCreated       Action = "entity-created"
	ActionEntityStatusChanged Action = "entity-status-changed"
)

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventInProgress EventStatus = "in_progress"
	EventFinished   EventStatus = "finished"
	EventFailed     EventStatus = "failed"
)

// SyncEvent is one entry of the pipeline event queue.
type SyncEvent struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Sender      string          `json:"sender,omitempty"`
	SenderType  string          `json:"senderType,omitempty"`
	Project     string          `json:"project,omitempty"`
	User        string          `json:"user,omitempty"`
	Hash        string          `json:"hash,omitempty"`
	DependsOn   string          `json:"dependsOn,omitempty"`
	Status      EventStatus     `json:"status,omitempty"`
	Description string          `json:"description,omitempty"`
	Summary     map[string]any  `json:"summary,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// SummaryString returns a string value of the event summary or "".
func (e SyncEvent) SummaryString(key string) string {
	if e.Summary == nil {
		return ""
	}
	s, _ := e.Summary[key].(string)
	return s
}

type EnrollRequest struct {
	SourceTopics      []string
	TargetTopic       string
	Sender            string
	Description       string
	MaxRetries        int
	IgnoreSenderTypes []string
}

type EventUpdate struct {
	Status      EventStatus
	Description string
	Project     string
	Payload     any
}

type DispatchRequest struct {
	Topic       string
	Hash        string
	Description string
	Payload     any
}

// ChangePayload is one notification read from a registry subscription.
type ChangePayload struct {
	PayloadID string              `json:"payload_id"`
	BaseID    string              `json:"base_id"`
	Changed   map[string][]string `json:"changed"`

	Raw json.RawMessage `json:"-"`
}

// PayloadBatch is one poll of a subscription. Cursor is where the next poll
// starts once the batch has been acknowledged.
type PayloadBatch struct {
	Payloads []ChangePayload
	Cursor   int
}

// ChangeSet is the payload published by the listener once per tick.
type ChangeSet struct {
	Action         Action          `json:"action"`
	PayloadID      string          `json:"payload_id"`
	SubscriptionID string          `json:"subscription_id"`
	BaseID         string          `json:"base_id"`
	Payloads       []ChangePayload `json:"payloads"`
}

type RecordRef struct {
	TableID  string
	RecordID string
}

// Records flattens the change set into sorted unique (table, record) pairs.
func (cs ChangeSet) Records() []RecordRef {
	seen := make(map[RecordRef]struct{})
	var out []RecordRef
	for _, p := range cs.Payloads {
		for table, records := range p.Changed {
			for _, rec := range records {
				ref := RecordRef{TableID: table, RecordID: rec}
				if _, ok := seen[ref]; ok {
					continue
				}
				seen[ref] = struct{}{}
				out = append(out, ref)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TableID != out[j].TableID {
			return out[i].TableID < out[j].TableID
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out
}

type Base struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Subscription struct {
	ID              string `json:"id"`
	NotificationURL string `json:"notificationUrl,omitempty"`
}

type RegistryRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// MatchResult is the outcome of looking up a record by its key fields.
type MatchResult struct {
	Found    bool
	RecordID string
}

type FieldType string

const (
	FieldSingleLineText FieldType = "singleLineText"
	FieldMultilineText  FieldType = "multilineText"
	FieldSingleSelect   FieldType = "singleSelect"
	FieldMultiSelect    FieldType = "multipleSelects"
)

type FieldSchema struct {
	Name    string
	Type    FieldType
	Choices []string
}

type TableSchema struct {
	Name   string
	Fields []FieldSchema
}

type Table struct {
	ID   string
	Name string
}

type TokenInfo struct {
	UserID string
	Scopes []string
}

type Project struct {
	Name      string
	Attrib    map[string]any
	Statuses  []string
	TaskTypes []string
}

func (p Project) HasStatus(name string) bool {
	for _, s := range p.Statuses {
		if s == name {
			return true
		}
	}
	return false
}

func (p Project) BoolAttrib(key string) bool {
	v, _ := p.Attrib[key].(bool)
	return v
}

type Product struct {
	ID   string
	Name string
}

type Task struct {
	ID       string
	TaskType string
}

// Snapshot is the liveness record a loop writes after each tick.
type Snapshot struct {
	Component string `json:"component"`
	PayloadID string `json:"payload_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Outcome   string `json:"outcome"`
	Payloads  int    `json:"payloads"`
	Dropped   int    `json:"dropped"`
	Retrieved int64  `json:"retrieved"`
}
