package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davarch/regsync/internal/domain"
)

const (
	topicCreated = "entity.version.created"
	topicStatus  = "entity.version.status_changed"
	topicPush    = "registry.push"
)

type writeCounter struct {
	nopRecorder
	writes map[string]int
}

func (w *writeCounter) RecordWritten(op string) {
	if w.writes == nil {
		w.writes = map[string]int{}
	}
	w.writes[op]++
}

type transmitterFixture struct {
	reg   *domain.MockRegistry
	queue *domain.MockQueue
	pipe  *domain.MockPipeline
	rec   *writeCounter
	tx    *Transmitter
}

func newTransmitterFixture(t *testing.T, push bool) *transmitterFixture {
	t.Helper()

	reg := domain.NewMockRegistry(domain.Base{ID: "app1", Name: "Show Tracking"})
	pipe := domain.NewMockPipeline()
	pipe.Projects["Ep01"] = domain.Project{
		Name:      "Ep01",
		Attrib:    map[string]any{domain.AttribRegistryPush: push},
		Statuses:  []string{"In Progress", "Approved"},
		TaskTypes: []string{"comp", "lighting"},
	}
	pipe.AddProduct("Ep01", domain.Product{ID: "prd1", Name: "sh010"})
	pipe.AddTask("Ep01", domain.Task{ID: "tsk1", TaskType: "comp"})
	pipe.AddVersion("Ep01", domain.Version{ID: "abc123", ProductID: "prd1", TaskID: "tsk1", Number: 1, Status: "In Progress"})

	f := &transmitterFixture{reg: reg, queue: domain.NewMockQueue(), pipe: pipe, rec: &writeCounter{}}
	f.tx = NewTransmitter(zap.NewNop(), reg, f.queue, pipe, staticFields(domain.DefaultFieldMap()), nil, f.rec, TransmitterConfig{
		CreatedTopic:       topicCreated,
		StatusChangedTopic: topicStatus,
		TargetTopic:        topicPush,
		Sender:             "regsync-transmitter",
		SenderType:         "regsync",
		MaxRetries:         3,
		BaseID:             "app1",
		Table:              "Sync",
		ExtraTaskTypes:     []string{"editorial"},
	})
	return f
}

func (f *transmitterFixture) addVersionEvent(topic string) string {
	return f.queue.Add(domain.SyncEvent{
		Topic:   topic,
		Project: "Ep01",
		Summary: map[string]any{"entityId": "abc123", "parentId": "prd1"},
	})
}

func (f *transmitterFixture) runOnce(t *testing.T, src string) string {
	t.Helper()
	busy, err := f.tx.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, busy)
	id, ok := f.queue.Processing(topicPush, src)
	require.True(t, ok)
	return id
}

func TestTransmitter_CreatesRecordAndTable(t *testing.T) {
	f := newTransmitterFixture(t, true)
	src := f.addVersionEvent(topicCreated)

	id := f.runOnce(t, src)

	assert.Equal(t, domain.EventFinished, f.queue.StatusOf(id))
	assert.Equal(t, 1, f.reg.CallCount("CreateTable"))

	records := f.reg.Records("Sync")
	require.Len(t, records, 1)
	fields := records[0].Fields
	assert.Equal(t, "Ep01", fields["Project"])
	assert.Equal(t, "sh010", fields["VFX_ID"])
	assert.Equal(t, "001", fields["V"])
	assert.Equal(t, "In Progress", fields["Status"])
	assert.Equal(t, "abc123", fields["VersionId"])
	assert.Equal(t, []string{"comp"}, fields["Types"])
	assert.NotContains(t, fields, "Assignee")
	assert.Equal(t, 1, f.rec.writes["create"])

	schema, ok := f.reg.Schema("Sync")
	require.True(t, ok)
	for _, fs := range schema.Fields {
		if fs.Name == "Types" {
			assert.Equal(t, []string{"comp", "lighting", "editorial"}, fs.Choices)
		}
	}

	var project string
	for _, u := range f.queue.Updates {
		if u.ID == id {
			project = u.Update.Project
		}
	}
	assert.Equal(t, "Ep01", project)
}

func TestTransmitter_StatusChangeUpdatesExistingRecord(t *testing.T) {
	f := newTransmitterFixture(t, true)
	f.reg.AddTable("Sync", domain.RegistryRecord{
		ID:     "rec777",
		Fields: map[string]any{"Project": "Ep01", "VFX_ID": "sh010", "VersionId": "abc123", "Status": "In Progress"},
	})
	f.pipe.AddVersion("Ep01", domain.Version{ID: "abc123", ProductID: "prd1", TaskID: "tsk1", Number: 1, Status: "Approved"})
	src := f.addVersionEvent(topicStatus)

	id := f.runOnce(t, src)

	assert.Equal(t, domain.EventFinished, f.queue.StatusOf(id))
	assert.Zero(t, f.reg.CallCount("CreateTable"))
	assert.Zero(t, f.reg.CallCount("CreateRecord"))

	records := f.reg.Records("Sync")
	require.Len(t, records, 1)
	assert.Equal(t, "rec777", records[0].ID)
	assert.Equal(t, "Approved", records[0].Fields["Status"])
	assert.Equal(t, 1, f.rec.writes["update"])
}

func TestTransmitter_RedeliveryIsIdempotent(t *testing.T) {
	f := newTransmitterFixture(t, true)
	first := f.addVersionEvent(topicCreated)
	second := f.addVersionEvent(topicCreated)

	f.runOnce(t, first)
	f.runOnce(t, second)

	assert.Len(t, f.reg.Records("Sync"), 1)
	assert.Equal(t, 1, f.reg.CallCount("CreateRecord"))
	assert.Equal(t, 1, f.reg.CallCount("ReplaceRecord"))
	assert.Equal(t, 1, f.reg.CallCount("ListTables"))
}

func TestTransmitter_DisabledProjectIsIgnored(t *testing.T) {
	f := newTransmitterFixture(t, false)
	src := f.addVersionEvent(topicCreated)

	id := f.runOnce(t, src)

	assert.Equal(t, domain.EventFinished, f.queue.StatusOf(id))
	assert.Empty(t, f.reg.Calls)
}

func TestTransmitter_DeletedProjectIsIgnored(t *testing.T) {
	f := newTransmitterFixture(t, true)
	src := f.queue.Add(domain.SyncEvent{
		Topic:   topicCreated,
		Project: "Gone",
		Summary: map[string]any{"entityId": "abc123"},
	})

	id := f.runOnce(t, src)

	assert.Equal(t, domain.EventFinished, f.queue.StatusOf(id))
	assert.Empty(t, f.reg.Calls)
}

func TestTransmitter_SkipsOwnEvents(t *testing.T) {
	f := newTransmitterFixture(t, true)
	f.queue.Add(domain.SyncEvent{
		Topic:      topicStatus,
		Project:    "Ep01",
		SenderType: "regsync",
		Summary:    map[string]any{"entityId": "abc123"},
	})

	busy, err := f.tx.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, busy)
	assert.Equal(t, []string{"regsync"}, f.queue.EnrollRequests[0].IgnoreSenderTypes)
	assert.Empty(t, f.reg.Calls)
}

func TestTransmitter_SkipsOwnEventsSlippingThroughEnroll(t *testing.T) {
	f := newTransmitterFixture(t, true)
	src := f.queue.Add(domain.SyncEvent{
		Topic:      topicStatus,
		Project:    "Ep01",
		SenderType: "regsync",
		Summary:    map[string]any{"entityId": "abc123"},
	})
	// a server ignoring the sender type filter
	req := domain.EnrollRequest{SourceTopics: []string{topicStatus}, TargetTopic: topicPush}
	ev, err := f.queue.Enroll(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, ev)

	f.tx.handle(context.Background(), *ev)

	assert.Equal(t, domain.EventFinished, f.queue.StatusOf(ev.ID))
	assert.Equal(t, src, ev.DependsOn)
	assert.Empty(t, f.reg.Calls)
}

func TestTransmitter_MissingVersionFails(t *testing.T) {
	f := newTransmitterFixture(t, true)
	src := f.queue.Add(domain.SyncEvent{
		Topic:   topicCreated,
		Project: "Ep01",
		Summary: map[string]any{"entityId": "nope"},
	})

	id := f.runOnce(t, src)

	assert.Equal(t, domain.EventFailed, f.queue.StatusOf(id))
	assert.Zero(t, f.reg.CallCount("CreateRecord"))
}

func TestTransmitter_WriteErrorFailsEvent(t *testing.T) {
	f := newTransmitterFixture(t, true)
	f.reg.WriteErr = errors.New("422 INVALID_MULTIPLE_CHOICE_OPTIONS")
	src := f.addVersionEvent(topicCreated)

	id := f.runOnce(t, src)

	assert.Equal(t, domain.EventFailed, f.queue.StatusOf(id))
	assert.Empty(t, f.rec.writes)
}

func TestTransmitter_EnrollErrorIsReturned(t *testing.T) {
	f := newTransmitterFixture(t, true)
	f.queue.EnrollErr = errors.New("connection refused")

	_, err := f.tx.RunOnce(context.Background())
	assert.Error(t, err)
}
