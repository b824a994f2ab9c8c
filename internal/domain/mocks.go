package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type mockTable struct {
	table   Table
	schema  TableSchema
	records []RegistryRecord
}

// MockRegistry is an in-memory Registry. Calls records every method name.
type MockRegistry struct {
	mu sync.Mutex

	Bases         []Base
	Subscriptions map[string][]Subscription
	Pending       []ChangePayload
	Acked         int
	PayloadsErr   error
	WriteErr      error
	Deleted       []string
	Calls         []string

	tables map[string]*mockTable
	nextID int
}

func NewMockRegistry(bases ...Base) *MockRegistry {
	return &MockRegistry{
		Bases:         bases,
		Subscriptions: make(map[string][]Subscription),
		tables:        make(map[string]*mockTable),
	}
}

func (m *MockRegistry) call(name string) {
	m.Calls = append(m.Calls, name)
}

func (m *MockRegistry) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s%03d", prefix, m.nextID)
}

// AddTable creates a table holding the given records.
func (m *MockRegistry) AddTable(name string, records ...RegistryRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTable{table: Table{ID: m.id("tbl"), Name: name}}
	t.schema.Name = name
	t.records = append(t.records, records...)
	m.tables[name] = t
}

// Records returns a copy of the records of a table.
func (m *MockRegistry) Records(table string) []RegistryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.lookup(table)
	if t == nil {
		return nil
	}
	return append([]RegistryRecord(nil), t.records...)
}

// Schema returns the schema a table was created with.
func (m *MockRegistry) Schema(table string) (TableSchema, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.lookup(table)
	if t == nil {
		return TableSchema{}, false
	}
	return t.schema, true
}

func (m *MockRegistry) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func (m *MockRegistry) lookup(table string) *mockTable {
	if t, ok := m.tables[table]; ok {
		return t
	}
	for _, t := range m.tables {
		if t.table.ID == table {
			return t
		}
	}
	return nil
}

func (m *MockRegistry) VerifyToken(ctx context.Context) (TokenInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("VerifyToken")
	return TokenInfo{UserID: "usr001", Scopes: []string{"data.records:read", "data.records:write"}}, nil
}

func (m *MockRegistry) ListBases(ctx context.Context) ([]Base, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("ListBases")
	return append([]Base(nil), m.Bases...), nil
}

func (m *MockRegistry) BaseMetaURL(baseID string) string {
	return "https://registry.test/v0/meta/bases/" + baseID
}

func (m *MockRegistry) ListSubscriptions(ctx context.Context, baseID string) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("ListSubscriptions")
	return append([]Subscription(nil), m.Subscriptions[baseID]...), nil
}

func (m *MockRegistry) CreateSubscription(ctx context.Context, baseID, notificationURL string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("CreateSubscription")
	s := Subscription{ID: m.id("ach"), NotificationURL: notificationURL}
	m.Subscriptions[baseID] = append(m.Subscriptions[baseID], s)
	return s, nil
}

func (m *MockRegistry) DeleteSubscription(ctx context.Context, baseID, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("DeleteSubscription")
	subs := m.Subscriptions[baseID]
	for i, s := range subs {
		if s.ID == subscriptionID {
			m.Subscriptions[baseID] = append(subs[:i], subs[i+1:]...)
			m.Deleted = append(m.Deleted, subscriptionID)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockRegistry) Payloads(ctx context.Context, baseID, subscriptionID string) (PayloadBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("Payloads")
	if m.PayloadsErr != nil {
		return PayloadBatch{}, m.PayloadsErr
	}
	// Pending[i] sits at cursor i+1.
	from := min(max(m.Acked-1, 0), len(m.Pending))
	return PayloadBatch{
		Payloads: append([]ChangePayload(nil), m.Pending[from:]...),
		Cursor:   len(m.Pending) + 1,
	}, nil
}

func (m *MockRegistry) AckPayloads(subscriptionID string, cursor int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("AckPayloads")
	if cursor > m.Acked {
		m.Acked = cursor
	}
}

func (m *MockRegistry) ListRecords(ctx context.Context, baseID, table string) ([]RegistryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("ListRecords")
	t := m.lookup(table)
	if t == nil {
		return nil, ErrNotFound
	}
	return append([]RegistryRecord(nil), t.records...), nil
}

func (m *MockRegistry) GetRecord(ctx context.Context, baseID, table, recordID string) (RegistryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("GetRecord")
	t := m.lookup(table)
	if t == nil {
		return RegistryRecord{}, ErrNotFound
	}
	for _, r := range t.records {
		if r.ID == recordID {
			return r, nil
		}
	}
	return RegistryRecord{}, ErrNotFound
}

func (m *MockRegistry) CreateRecord(ctx context.Context, baseID, table string, fields map[string]any) (RegistryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("CreateRecord")
	if m.WriteErr != nil {
		return RegistryRecord{}, m.WriteErr
	}
	t := m.lookup(table)
	if t == nil {
		return RegistryRecord{}, ErrNotFound
	}
	r := RegistryRecord{ID: m.id("rec"), Fields: copyFields(fields)}
	t.records = append(t.records, r)
	return r, nil
}

func (m *MockRegistry) ReplaceRecord(ctx context.Context, baseID, table, recordID string, fields map[string]any) (RegistryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("ReplaceRecord")
	if m.WriteErr != nil {
		return RegistryRecord{}, m.WriteErr
	}
	t := m.lookup(table)
	if t == nil {
		return RegistryRecord{}, ErrNotFound
	}
	for i, r := range t.records {
		if r.ID == recordID {
			t.records[i].Fields = copyFields(fields)
			return t.records[i], nil
		}
	}
	return RegistryRecord{}, ErrNotFound
}

func (m *MockRegistry) ListTables(ctx context.Context, baseID string) ([]Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("ListTables")
	out := make([]Table, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t.table)
	}
	return out, nil
}

func (m *MockRegistry) CreateTable(ctx context.Context, baseID string, schema TableSchema) (Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("CreateTable")
	t := &mockTable{table: Table{ID: m.id("tbl"), Name: schema.Name}, schema: schema}
	m.tables[schema.Name] = t
	return t.table, nil
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type MockUpdate struct {
	ID     string
	Update EventUpdate
}

// MockQueue is an in-memory EventQueue with enroll semantics close to the
// pipeline server: one claim per (target topic, source event).
type MockQueue struct {
	mu sync.Mutex

	EnrollErr      error
	DispatchErr    error
	EnrollRequests []EnrollRequest
	Updates        []MockUpdate
	Dispatched     []DispatchRequest

	events  map[string]*SyncEvent
	order   []string
	claimed map[string]bool
	nextID  int
}

func NewMockQueue() *MockQueue {
	return &MockQueue{
		events:  make(map[string]*SyncEvent),
		claimed: make(map[string]bool),
	}
}

// Add stores a source event and returns its id.
func (q *MockQueue) Add(e SyncEvent) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.add(e)
}

func (q *MockQueue) add(e SyncEvent) string {
	if e.ID == "" {
		q.nextID++
		e.ID = fmt.Sprintf("evt%03d", q.nextID)
	}
	if e.Status == "" {
		e.Status = EventPending
	}
	q.events[e.ID] = &e
	q.order = append(q.order, e.ID)
	return e.ID
}

func (q *MockQueue) StatusOf(id string) EventStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.events[id]; ok {
		return e.Status
	}
	return ""
}

// Processing returns the id of the event created by enrolling source into target.
func (q *MockQueue) Processing(target, source string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		e := q.events[id]
		if e.Topic == target && e.DependsOn == source {
			return id, true
		}
	}
	return "", false
}

func (q *MockQueue) Enroll(ctx context.Context, req EnrollRequest) (*SyncEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.EnrollRequests = append(q.EnrollRequests, req)
	if q.EnrollErr != nil {
		return nil, q.EnrollErr
	}

	for _, id := range append([]string(nil), q.order...) {
		src := q.events[id]
		if !contains(req.SourceTopics, src.Topic) || contains(req.IgnoreSenderTypes, src.SenderType) {
			continue
		}
		key := req.TargetTopic + "/" + src.ID
		if q.claimed[key] {
			continue
		}
		q.claimed[key] = true
		pid := q.add(SyncEvent{
			Topic:     req.TargetTopic,
			Sender:    req.Sender,
			Project:   src.Project,
			DependsOn: src.ID,
			Status:    EventPending,
		})
		e := *q.events[pid]
		return &e, nil
	}
	return nil, nil
}

func (q *MockQueue) Event(ctx context.Context, id string) (SyncEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.events[id]
	if !ok {
		return SyncEvent{}, ErrNotFound
	}
	return *e, nil
}

func (q *MockQueue) Update(ctx context.Context, id string, upd EventUpdate) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Updates = append(q.Updates, MockUpdate{ID: id, Update: upd})
	e, ok := q.events[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != "" {
		e.Status = upd.Status
	}
	if upd.Description != "" {
		e.Description = upd.Description
	}
	if upd.Payload != nil {
		b, _ := json.Marshal(upd.Payload)
		e.Payload = b
	}
	return nil
}

func (q *MockQueue) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.DispatchErr != nil {
		return "", q.DispatchErr
	}
	q.Dispatched = append(q.Dispatched, req)
	b, err := json.Marshal(req.Payload)
	if err != nil {
		return "", err
	}
	return q.add(SyncEvent{Topic: req.Topic, Hash: req.Hash, Description: req.Description, Payload: b}), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type MockCommit struct {
	Project   string
	VersionID string
	Changes   VersionChanges
}

// MockPipeline is an in-memory Pipeline whose hubs record commits.
type MockPipeline struct {
	mu sync.Mutex

	Projects map[string]Project
	Secrets  map[string]string
	Versions map[string]map[string]Version
	Products map[string]map[string]Product
	Tasks    map[string]map[string]Task

	CommitErr    error
	Commits      []MockCommit
	ProjectCalls int
}

func NewMockPipeline() *MockPipeline {
	return &MockPipeline{
		Projects: make(map[string]Project),
		Secrets:  make(map[string]string),
		Versions: make(map[string]map[string]Version),
		Products: make(map[string]map[string]Product),
		Tasks:    make(map[string]map[string]Task),
	}
}

func (p *MockPipeline) AddVersion(project string, v Version) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Versions[project] == nil {
		p.Versions[project] = make(map[string]Version)
	}
	p.Versions[project][v.ID] = v
}

func (p *MockPipeline) AddProduct(project string, pr Product) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Products[project] == nil {
		p.Products[project] = make(map[string]Product)
	}
	p.Products[project][pr.ID] = pr
}

func (p *MockPipeline) AddTask(project string, t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Tasks[project] == nil {
		p.Tasks[project] = make(map[string]Task)
	}
	p.Tasks[project][t.ID] = t
}

// StoredVersion returns the committed state of a version.
func (p *MockPipeline) StoredVersion(project, id string) Version {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Versions[project][id]
}

func (p *MockPipeline) Secret(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.Secrets[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (p *MockPipeline) Project(ctx context.Context, name string) (Project, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ProjectCalls++
	pr, ok := p.Projects[name]
	if !ok {
		return Project{}, ErrNotFound
	}
	return pr, nil
}

func (p *MockPipeline) SetProjectAttrib(ctx context.Context, name, key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.Projects[name]
	if !ok {
		return ErrNotFound
	}
	if pr.Attrib == nil {
		pr.Attrib = make(map[string]any)
	}
	pr.Attrib[key] = value
	p.Projects[name] = pr
	return nil
}

func (p *MockPipeline) Hub(project string) EntityHub {
	return &mockHub{p: p, project: project, loaded: make(map[string]*Version)}
}

type mockHub struct {
	p       *MockPipeline
	project string
	loaded  map[string]*Version
}

func (h *mockHub) Version(ctx context.Context, id string) (*Version, error) {
	if v, ok := h.loaded[id]; ok {
		return v, nil
	}
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	stored, ok := h.p.Versions[h.project][id]
	if !ok {
		return nil, nil
	}
	v := stored
	v.Attrib = make(map[string]string, len(stored.Attrib))
	for k, val := range stored.Attrib {
		v.Attrib[k] = val
	}
	h.loaded[id] = &v
	return &v, nil
}

func (h *mockHub) Product(ctx context.Context, id string) (*Product, error) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	pr, ok := h.p.Products[h.project][id]
	if !ok {
		return nil, nil
	}
	return &pr, nil
}

func (h *mockHub) Task(ctx context.Context, id string) (*Task, error) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	t, ok := h.p.Tasks[h.project][id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (h *mockHub) Commit(ctx context.Context) error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.p.CommitErr != nil {
		return h.p.CommitErr
	}
	for id, v := range h.loaded {
		if !v.Dirty() {
			continue
		}
		h.p.Commits = append(h.p.Commits, MockCommit{Project: h.project, VersionID: id, Changes: v.Changes()})
		stored := *v
		stored.ClearChanges()
		h.p.Versions[h.project][id] = stored
		v.ClearChanges()
	}
	return nil
}

type MockStatus struct {
	Snapshots []Snapshot
	Err       error
}

func (c *MockStatus) Write(ctx context.Context, s Snapshot) error {
	if c.Err != nil {
		return c.Err
	}
	c.Snapshots = append(c.Snapshots, s)
	return nil
}
