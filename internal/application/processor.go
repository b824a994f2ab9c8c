package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/davarch/regsync/internal/domain"
)

const statusCacheSize = 128

type ProcessorConfig struct {
	SourceTopic    string
	TargetTopic    string
	Sender         string
	MaxRetries     int
	StatusCacheTTL time.Duration
}

// Processor applies registry change sets to pipeline versions.
type Processor struct {
	log      *zap.Logger
	reg      domain.Registry
	queue    domain.EventQueue
	pipeline domain.Pipeline
	fields   domain.FieldMapSource
	status   domain.StatusWriter
	rec      Recorder
	cfg      ProcessorConfig

	statuses *expirable.LRU[string, []string]
}

func NewProcessor(
	l *zap.Logger,
	reg domain.Registry,
	q domain.EventQueue,
	p domain.Pipeline,
	fields domain.FieldMapSource,
	status domain.StatusWriter,
	rec Recorder,
	cfg ProcessorConfig,
) *Processor {
	pr := &Processor{
		log:      l.Named("processor"),
		reg:      reg,
		queue:    q,
		pipeline: p,
		fields:   fields,
		status:   orNopStatus(status),
		rec:      orNop(rec),
		cfg:      cfg,
	}
	if cfg.StatusCacheTTL > 0 {
		pr.statuses = expirable.NewLRU[string, []string](statusCacheSize, nil, cfg.StatusCacheTTL)
	}
	return pr
}

func (p *Processor) Name() string { return "processor" }

func (p *Processor) RunOnce(ctx context.Context) (bool, error) {
	ev, err := p.queue.Enroll(ctx, domain.EnrollRequest{
		SourceTopics: []string{p.cfg.SourceTopic},
		TargetTopic:  p.cfg.TargetTopic,
		Sender:       p.cfg.Sender,
		Description:  "Event processing",
		MaxRetries:   p.cfg.MaxRetries,
	})
	if err != nil {
		return false, fmt.Errorf("enroll %s: %w", p.cfg.SourceTopic, err)
	}
	if ev == nil {
		return false, nil
	}

	p.handle(ctx, *ev)
	return true, nil
}

func (p *Processor) handle(ctx context.Context, ev domain.SyncEvent) {
	start := time.Now()
	log := p.log.With(zap.String("event", ev.ID), zap.String("source", ev.DependsOn))

	var payloadID string
	err := guard(func() error {
		var err error
		payloadID, err = p.process(ctx, log, ev)
		return err
	})

	outcome := OutcomeFinished
	desc := fmt.Sprintf("Event processed successfully %s", payloadID)
	if err != nil {
		outcome = OutcomeFailed
		desc = fmt.Sprintf("An error occurred while processing %s", payloadID)
		log.Error("event failed", zap.Error(err))
	} else {
		log.Info("event processed, setting to finished")
	}

	settle(ctx, log, p.queue, ev, "", desc, err)
	p.rec.EventHandled(p.Name(), outcome, time.Since(start))
	_ = p.status.Write(ctx, domain.Snapshot{
		Component: p.Name(),
		PayloadID: payloadID,
		EventID:   ev.ID,
		Outcome:   outcome,
		Retrieved: time.Now().Unix(),
	})
}

func (p *Processor) process(ctx context.Context, log *zap.Logger, ev domain.SyncEvent) (string, error) {
	src, err := p.queue.Event(ctx, ev.DependsOn)
	if err != nil {
		return "", fmt.Errorf("source event %s: %w", ev.DependsOn, err)
	}

	var cs domain.ChangeSet
	if err := json.Unmarshal(src.Payload, &cs); err != nil {
		return "", fmt.Errorf("decode change set: %w", err)
	}
	if cs.Action != domain.ActionRegistryChange {
		log.Info("ignoring source payload", zap.String("action", string(cs.Action)))
		return cs.PayloadID, nil
	}

	if err := p.queue.Update(ctx, ev.ID, domain.EventUpdate{
		Status:      domain.EventInProgress,
		Description: fmt.Sprintf("Processing event with handler %s...", cs.Action),
	}); err != nil {
		return cs.PayloadID, fmt.Errorf("mark in progress: %w", err)
	}

	fm := p.fields.FieldMap()
	required, ok := requiredFields(fm)
	if !ok {
		log.Warn("project or version id field is not mapped, nothing to sync")
		return cs.PayloadID, nil
	}

	refs := cs.Records()
	if len(refs) == 0 {
		log.Debug("change set has no changed records", zap.String("payload_id", cs.PayloadID))
		return cs.PayloadID, nil
	}

	var errs error
	for _, ref := range refs {
		rlog := log.With(zap.String("table", ref.TableID), zap.String("record", ref.RecordID))

		rec, err := p.reg.GetRecord(ctx, cs.BaseID, ref.TableID, ref.RecordID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("record %s: %w", ref.RecordID, err))
			continue
		}

		if missing := missingFields(rec.Fields, required); len(missing) > 0 {
			rlog.Warn("record is missing required fields", zap.Strings("missing", missing))
			continue
		}

		if err := p.apply(ctx, rlog, cs.BaseID, rec.Fields, fm); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("record %s: %w", ref.RecordID, err))
		}
	}

	return cs.PayloadID, errs
}

// apply stages the record onto its version and commits once.
func (p *Processor) apply(ctx context.Context, log *zap.Logger, baseID string, raw map[string]any, fm domain.FieldMap) error {
	fields := NormalizeFields(raw)
	project := scalar(fields[fm.Project])
	versionID := scalar(fields[fm.VersionID])

	statuses, err := p.projectStatuses(ctx, project)
	if err != nil {
		return fmt.Errorf("project %q: %w", project, err)
	}

	hub := p.pipeline.Hub(project)
	v, err := hub.Version(ctx, versionID)
	if err != nil {
		return fmt.Errorf("version %s: %w", versionID, err)
	}
	if v == nil {
		return fmt.Errorf("version %s: %w", versionID, domain.ErrEntityNotFound)
	}
	if v.Immutable {
		return fmt.Errorf("version %s: %w", versionID, domain.ErrEntityImmutable)
	}

	if fm.Status != "" {
		status := scalar(fields[fm.Status])
		if contains(statuses, status) {
			if err := v.SetStatus(status); err != nil {
				return err
			}
		} else {
			log.Warn("status not available for project", zap.String("status", status), zap.String("project", project))
		}
	}

	if err := v.SetAttrib(domain.AttribRegistryID, baseID); err != nil {
		return err
	}
	if err := v.SetAttrib(domain.AttribRegistryPath, p.reg.BaseMetaURL(baseID)); err != nil {
		return err
	}

	if !v.Dirty() {
		log.Debug("version already up to date", zap.String("version", versionID))
		return nil
	}

	if err := hub.Commit(ctx); err != nil {
		return fmt.Errorf("commit version %s: %w", versionID, err)
	}
	log.Info("version updated", zap.String("version", versionID), zap.String("project", project))
	return nil
}

func (p *Processor) projectStatuses(ctx context.Context, project string) ([]string, error) {
	if p.statuses != nil {
		if s, ok := p.statuses.Get(project); ok {
			return s, nil
		}
	}

	pr, err := p.pipeline.Project(ctx, project)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("unable to open project: %w", err)
		}
		return nil, err
	}

	if p.statuses != nil {
		p.statuses.Add(project, pr.Statuses)
	}
	return pr.Statuses, nil
}

func requiredFields(fm domain.FieldMap) ([]string, bool) {
	if fm.Project == "" || fm.VersionID == "" {
		return nil, false
	}
	req := []string{fm.Project, fm.VersionID}
	if fm.Status != "" {
		req = append(req, fm.Status)
	}
	return req, true
}

func missingFields(fields map[string]any, required []string) []string {
	var missing []string
	for _, f := range required {
		if _, ok := fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
