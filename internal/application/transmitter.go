package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davarch/regsync/internal/domain"
)

type TransmitterConfig struct {
	CreatedTopic       string
	StatusChangedTopic string
	TargetTopic        string
	Sender             string
	SenderType         string
	MaxRetries         int
	BaseID             string
	Table              string
	ExtraTaskTypes     []string
}

// Transmitter pushes pipeline version events into the registry table.
type Transmitter struct {
	log      *zap.Logger
	reg      domain.Registry
	queue    domain.EventQueue
	pipeline domain.Pipeline
	fields   domain.FieldMapSource
	status   domain.StatusWriter
	rec      Recorder
	cfg      TransmitterConfig

	tableReady bool
}

func NewTransmitter(
	l *zap.Logger,
	reg domain.Registry,
	q domain.EventQueue,
	p domain.Pipeline,
	fields domain.FieldMapSource,
	status domain.StatusWriter,
	rec Recorder,
	cfg TransmitterConfig,
) *Transmitter {
	return &Transmitter{
		log:      l.Named("transmitter"),
		reg:      reg,
		queue:    q,
		pipeline: p,
		fields:   fields,
		status:   orNopStatus(status),
		rec:      orNop(rec),
		cfg:      cfg,
	}
}

func (t *Transmitter) Name() string { return "transmitter" }

func (t *Transmitter) RunOnce(ctx context.Context) (bool, error) {
	ev, err := t.queue.Enroll(ctx, domain.EnrollRequest{
		SourceTopics:      []string{t.cfg.CreatedTopic, t.cfg.StatusChangedTopic},
		TargetTopic:       t.cfg.TargetTopic,
		Sender:            t.cfg.Sender,
		Description:       "Handle pipeline entity changes and sync them to the registry.",
		MaxRetries:        t.cfg.MaxRetries,
		IgnoreSenderTypes: []string{t.cfg.SenderType},
	})
	if err != nil {
		return false, fmt.Errorf("enroll %s: %w", t.cfg.TargetTopic, err)
	}
	if ev == nil {
		return false, nil
	}

	t.handle(ctx, *ev)
	return true, nil
}

func (t *Transmitter) handle(ctx context.Context, ev domain.SyncEvent) {
	start := time.Now()
	log := t.log.With(zap.String("event", ev.ID), zap.String("source", ev.DependsOn))

	var (
		project string
		outcome string
	)
	err := guard(func() error {
		var err error
		project, outcome, err = t.process(ctx, log, ev)
		return err
	})

	desc := "Event processed successfully"
	if err != nil {
		outcome = OutcomeFailed
		desc = "Error processing event"
		log.Error("event failed", zap.String("project", project), zap.Error(err))
	}

	settle(ctx, log, t.queue, ev, project, desc, err)
	t.rec.EventHandled(t.Name(), outcome, time.Since(start))
	_ = t.status.Write(ctx, domain.Snapshot{
		Component: t.Name(),
		EventID:   ev.ID,
		Outcome:   outcome,
		Retrieved: time.Now().Unix(),
	})
}

func (t *Transmitter) process(ctx context.Context, log *zap.Logger, ev domain.SyncEvent) (string, string, error) {
	src, err := t.queue.Event(ctx, ev.DependsOn)
	if err != nil {
		return "", "", fmt.Errorf("source event %s: %w", ev.DependsOn, err)
	}
	project := src.Project

	if t.cfg.SenderType != "" && src.SenderType == t.cfg.SenderType {
		log.Info("ignoring event written by this service", zap.String("sender", src.Sender))
		return project, OutcomeSkipped, nil
	}

	action, ok := t.actionFor(src.Topic)
	if !ok {
		log.Info("ignoring unexpected topic", zap.String("topic", src.Topic))
		return project, OutcomeSkipped, nil
	}

	pr, enabled, err := t.pushEnabled(ctx, project)
	if err != nil {
		return project, "", err
	}
	if !enabled {
		log.Info("project does not exist or is not push-enabled, ignoring event", zap.String("project", project))
		return project, OutcomeSkipped, nil
	}

	values, err := t.extract(ctx, project, src)
	if err != nil {
		return project, "", err
	}

	fm := t.fields.FieldMap()
	data := fm.Translate(values)
	log.Info("syncing data", zap.String("project", project), zap.Any("fields", data))

	if err := t.ensureTable(ctx, log, pr, fm); err != nil {
		return project, "", err
	}

	records, err := t.reg.ListRecords(ctx, t.cfg.BaseID, t.cfg.Table)
	if err != nil {
		return project, "", fmt.Errorf("list records: %w", err)
	}

	match := MatchRecord(records, data, matchKeys(fm, action))
	if match.Found {
		if _, err := t.reg.ReplaceRecord(ctx, t.cfg.BaseID, t.cfg.Table, match.RecordID, data); err != nil {
			return project, "", fmt.Errorf("update record %s: %w", match.RecordID, err)
		}
		t.rec.RecordWritten("update")
		log.Info("record updated", zap.String("record", match.RecordID), zap.String("table", t.cfg.Table))
		return project, OutcomeFinished, nil
	}

	rec, err := t.reg.CreateRecord(ctx, t.cfg.BaseID, t.cfg.Table, data)
	if err != nil {
		return project, "", fmt.Errorf("create record: %w", err)
	}
	t.rec.RecordWritten("create")
	log.Info("record created", zap.String("record", rec.ID), zap.String("table", t.cfg.Table))
	return project, OutcomeFinished, nil
}

func (t *Transmitter) actionFor(topic string) (domain.Action, bool) {
	switch topic {
	case t.cfg.CreatedTopic:
		return domain.ActionEntityCreated, true
	case t.cfg.StatusChangedTopic:
		return domain.ActionEntityStatusChanged, true
	default:
		return "", false
	}
}

// pushEnabled reads the project fresh on every event. A deleted project is
// reported as disabled.
func (t *Transmitter) pushEnabled(ctx context.Context, project string) (domain.Project, bool, error) {
	if project == "" {
		return domain.Project{}, false, nil
	}

	pr, err := t.pipeline.Project(ctx, project)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Project{}, false, nil
	}
	if err != nil {
		return domain.Project{}, false, fmt.Errorf("project %q: %w", project, err)
	}

	return pr, pr.BoolAttrib(domain.AttribRegistryPush), nil
}

// extract builds the logical values of the version the event points at.
func (t *Transmitter) extract(ctx context.Context, project string, src domain.SyncEvent) (map[string]any, error) {
	hub := t.pipeline.Hub(project)

	versionID := src.SummaryString("entityId")
	v, err := hub.Version(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", versionID, err)
	}
	if v == nil {
		return nil, fmt.Errorf("version %s: %w", versionID, domain.ErrEntityNotFound)
	}

	values := map[string]any{
		domain.AttrProject:   project,
		domain.AttrVersionID: versionID,
		domain.AttrStatus:    v.Status,
		domain.AttrVersion:   fmt.Sprintf("%03d", v.Number),
	}

	if v.TaskID != "" {
		task, err := hub.Task(ctx, v.TaskID)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", v.TaskID, err)
		}
		tags := []string{}
		if task != nil && task.TaskType != "" {
			tags = append(tags, task.TaskType)
		}
		values[domain.AttrTags] = tags
	}

	productID := src.SummaryString("parentId")
	if productID == "" {
		productID = v.ProductID
	}
	product, err := hub.Product(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", productID, err)
	}
	if product == nil {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrEntityNotFound)
	}
	values[domain.AttrProductName] = product.Name

	return values, nil
}

// ensureTable creates the sync table on first use when the base lacks it.
func (t *Transmitter) ensureTable(ctx context.Context, log *zap.Logger, pr domain.Project, fm domain.FieldMap) error {
	if t.tableReady {
		return nil
	}

	tables, err := t.reg.ListTables(ctx, t.cfg.BaseID)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	for _, tb := range tables {
		if tb.Name == t.cfg.Table || tb.ID == t.cfg.Table {
			t.tableReady = true
			return nil
		}
	}

	taskTypes := append(append([]string(nil), pr.TaskTypes...), t.cfg.ExtraTaskTypes...)
	schema := BuildTableSchema(t.cfg.Table, fm, pr.Statuses, taskTypes)
	tb, err := t.reg.CreateTable(ctx, t.cfg.BaseID, schema)
	if err != nil {
		return fmt.Errorf("create table %q: %w", t.cfg.Table, err)
	}

	t.tableReady = true
	log.Info("created registry table", zap.String("table", tb.Name), zap.String("id", tb.ID), zap.Int("fields", len(schema.Fields)))
	return nil
}

// matchKeys is the registry field tuple identifying a synced row.
func matchKeys(fm domain.FieldMap, action domain.Action) []string {
	attrs := []string{domain.AttrProject, domain.AttrProductName}
	if action == domain.ActionEntityStatusChanged {
		attrs = append(attrs, domain.AttrVersionID)
	}

	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if name, ok := fm.Lookup(a); ok {
			keys = append(keys, name)
		}
	}
	return keys
}
