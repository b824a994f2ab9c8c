package domain

import "context"

type Registry interface {
	VerifyToken(ctx context.Context) (TokenInfo, error)
	ListBases(ctx context.Context) ([]Base, error)
	BaseMetaURL(baseID string) string

	ListSubscriptions(ctx context.Context, baseID string) ([]Subscription, error)
	CreateSubscription(ctx context.Context, baseID, notificationURL string) (Subscription, error)
	DeleteSubscription(ctx context.Context, baseID, subscriptionID string) error
	// Payloads reads from the last acknowledged cursor. Reading does not move
	// the cursor; AckPayloads does.
	Payloads(ctx context.Context, baseID, subscriptionID string) (PayloadBatch, error)
	AckPayloads(subscriptionID string, cursor int)

	ListRecords(ctx context.Context, baseID, table string) ([]RegistryRecord, error)
	GetRecord(ctx context.Context, baseID, table, recordID string) (RegistryRecord, error)
	CreateRecord(ctx context.Context, baseID, table string, fields map[string]any) (RegistryRecord, error)
	ReplaceRecord(ctx context.Context, baseID, table, recordID string, fields map[string]any) (RegistryRecord, error)

	ListTables(ctx context.Context, baseID string) ([]Table, error)
	CreateTable(ctx context.Context, baseID string, schema TableSchema) (Table, error)
}

// EventQueue is the durable at-least-once queue hosted by the pipeline.
// Enroll returns nil, nil when no event is waiting.
type EventQueue interface {
	Enroll(ctx context.Context, req EnrollRequest) (*SyncEvent, error)
	Event(ctx context.Context, id string) (SyncEvent, error)
	Update(ctx context.Context, id string, upd EventUpdate) error
	Dispatch(ctx context.Context, req DispatchRequest) (string, error)
}

type Pipeline interface {
	Secret(ctx context.Context, name string) (string, error)
	Project(ctx context.Context, name string) (Project, error)
	SetProjectAttrib(ctx context.Context, name, key string, value any) error
	Hub(project string) EntityHub
}

// EntityHub is a per-project handle on the entity graph. Getters return
// nil, nil when the entity does not exist.
type EntityHub interface {
	Version(ctx context.Context, id string) (*Version, error)
	Product(ctx context.Context, id string) (*Product, error)
	Task(ctx context.Context, id string) (*Task, error)
	Commit(ctx context.Context) error
}

type StatusWriter interface {
	Write(ctx context.Context, s Snapshot) error
}

type FieldMapSource interface {
	FieldMap() FieldMap
}
