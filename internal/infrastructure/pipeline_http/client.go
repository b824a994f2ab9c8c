package pipeline_http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/davarch/regsync/internal/domain"
	"github.com/davarch/regsync/internal/infrastructure/rest"
)

// Client is the pipeline server API: event queue, secrets, projects and the
// per-project entity hubs. Every request carries the service identity so the
// server can tag the events it emits with our sender type.
type Client struct {
	baseURL string
	rc      *rest.Client
}

func New(serverURL, apiKey, sender, senderType string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		rc: rest.New(timeout, func(r *http.Request) {
			r.Header.Set("X-Api-Key", apiKey)
			if sender != "" {
				r.Header.Set("X-Sender", sender)
			}
			if senderType != "" {
				r.Header.Set("X-Sender-Type", senderType)
			}
		}),
	}
}

func (c *Client) REST() *rest.Client { return c.rc }

func (c *Client) url(format string, args ...any) string {
	parts := make([]any, len(args))
	for i, a := range args {
		parts[i] = url.PathEscape(fmt.Sprint(a))
	}
	return c.baseURL + fmt.Sprintf(format, parts...)
}

func (c *Client) Secret(ctx context.Context, name string) (string, error) {
	var out struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := c.rc.Do(ctx, http.MethodGet, c.url("/api/secrets/%s", name), nil, &out); err != nil {
		return "", fmt.Errorf("secret %q: %w", name, err)
	}
	if out.Value == "" {
		return "", fmt.Errorf("secret %q is empty: %w", name, domain.ErrNotFound)
	}
	return out.Value, nil
}

type enrollDTO struct {
	SourceTopic       []string `json:"sourceTopic"`
	TargetTopic       string   `json:"targetTopic"`
	Sender            string   `json:"sender"`
	Description       string   `json:"description,omitempty"`
	MaxRetries        int      `json:"maxRetries"`
	IgnoreSenderTypes []string `json:"ignoreSenderTypes,omitempty"`
}

// Enroll claims the next source event for the target topic. The server
// answers 204 when nothing is waiting. Ordering is left to the server
// default.
func (c *Client) Enroll(ctx context.Context, req domain.EnrollRequest) (*domain.SyncEvent, error) {
	body := enrollDTO{
		SourceTopic:       req.SourceTopics,
		TargetTopic:       req.TargetTopic,
		Sender:            req.Sender,
		Description:       req.Description,
		MaxRetries:        req.MaxRetries,
		IgnoreSenderTypes: req.IgnoreSenderTypes,
	}

	var out domain.SyncEvent
	if err := c.rc.Do(ctx, http.MethodPost, c.url("/api/enroll"), body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, nil
	}
	if out.Topic == "" {
		out.Topic = req.TargetTopic
	}
	return &out, nil
}

func (c *Client) Event(ctx context.Context, id string) (domain.SyncEvent, error) {
	var out domain.SyncEvent
	if err := c.rc.Do(ctx, http.MethodGet, c.url("/api/events/%s", id), nil, &out); err != nil {
		return domain.SyncEvent{}, err
	}
	return out, nil
}

type eventPatchDTO struct {
	Status      domain.EventStatus `json:"status,omitempty"`
	Description string             `json:"description,omitempty"`
	Project     string             `json:"project,omitempty"`
	Payload     any                `json:"payload,omitempty"`
}

func (c *Client) Update(ctx context.Context, id string, upd domain.EventUpdate) error {
	body := eventPatchDTO{
		Status:      upd.Status,
		Description: upd.Description,
		Project:     upd.Project,
		Payload:     upd.Payload,
	}
	return c.rc.Do(ctx, http.MethodPatch, c.url("/api/events/%s", id), body, nil)
}

type dispatchDTO struct {
	Topic       string `json:"topic"`
	Hash        string `json:"hash,omitempty"`
	Description string `json:"description,omitempty"`
	Payload     any    `json:"payload,omitempty"`
	Finished    bool   `json:"finished"`
	Store       bool   `json:"store"`
}

func (c *Client) Dispatch(ctx context.Context, req domain.DispatchRequest) (string, error) {
	body := dispatchDTO{
		Topic:       req.Topic,
		Hash:        req.Hash,
		Description: req.Description,
		Payload:     req.Payload,
		Finished:    true,
		Store:       true,
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.rc.Do(ctx, http.MethodPost, c.url("/api/events"), body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

type namedDTO struct {
	Name string `json:"name"`
}

type projectDTO struct {
	Name      string         `json:"name"`
	Attrib    map[string]any `json:"attrib"`
	Statuses  []namedDTO     `json:"statuses"`
	TaskTypes []namedDTO     `json:"taskTypes"`
}

func names(in []namedDTO) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		out = append(out, n.Name)
	}
	return out
}

func (c *Client) Project(ctx context.Context, name string) (domain.Project, error) {
	var out projectDTO
	if err := c.rc.Do(ctx, http.MethodGet, c.url("/api/projects/%s", name), nil, &out); err != nil {
		return domain.Project{}, err
	}
	return domain.Project{
		Name:      out.Name,
		Attrib:    out.Attrib,
		Statuses:  names(out.Statuses),
		TaskTypes: names(out.TaskTypes),
	}, nil
}

func (c *Client) SetProjectAttrib(ctx context.Context, name, key string, value any) error {
	body := map[string]any{"attrib": map[string]any{key: value}}
	return c.rc.Do(ctx, http.MethodPatch, c.url("/api/projects/%s", name), body, nil)
}

func (c *Client) Hub(project string) domain.EntityHub {
	return &hub{c: c, project: project, versions: make(map[string]*domain.Version)}
}

type versionDTO struct {
	ID                    string         `json:"id"`
	ProductID             string         `json:"productId"`
	TaskID                string         `json:"taskId"`
	Version               int            `json:"version"`
	Status                string         `json:"status"`
	ImmutableForHierarchy bool           `json:"immutableForHierarchy"`
	Attrib                map[string]any `json:"attrib"`
}

type versionPatchDTO struct {
	Status string            `json:"status,omitempty"`
	Attrib map[string]string `json:"attrib,omitempty"`
}

// hub caches the versions it loaded and sends their staged changes on
// Commit, one PATCH per version.
type hub struct {
	c        *Client
	project  string
	versions map[string]*domain.Version
	order    []string
}

func (h *hub) Version(ctx context.Context, id string) (*domain.Version, error) {
	if v, ok := h.versions[id]; ok {
		return v, nil
	}
	if id == "" {
		return nil, nil
	}

	var out versionDTO
	err := h.c.rc.Do(ctx, http.MethodGet, h.c.url("/api/projects/%s/versions/%s", h.project, id), nil, &out)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attrib := make(map[string]string, len(out.Attrib))
	for k, v := range out.Attrib {
		if s, ok := v.(string); ok {
			attrib[k] = s
		}
	}

	v := &domain.Version{
		ID:        out.ID,
		ProductID: out.ProductID,
		TaskID:    out.TaskID,
		Number:    out.Version,
		Status:    out.Status,
		Immutable: out.ImmutableForHierarchy,
		Attrib:    attrib,
	}
	h.versions[id] = v
	h.order = append(h.order, id)
	return v, nil
}

func (h *hub) Product(ctx context.Context, id string) (*domain.Product, error) {
	if id == "" {
		return nil, nil
	}
	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	err := h.c.rc.Do(ctx, http.MethodGet, h.c.url("/api/projects/%s/products/%s", h.project, id), nil, &out)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.Product{ID: out.ID, Name: out.Name}, nil
}

func (h *hub) Task(ctx context.Context, id string) (*domain.Task, error) {
	if id == "" {
		return nil, nil
	}
	var out struct {
		ID       string `json:"id"`
		TaskType string `json:"taskType"`
	}
	err := h.c.rc.Do(ctx, http.MethodGet, h.c.url("/api/projects/%s/tasks/%s", h.project, id), nil, &out)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.Task{ID: out.ID, TaskType: out.TaskType}, nil
}

func (h *hub) Commit(ctx context.Context) error {
	for _, id := range h.order {
		v := h.versions[id]
		if !v.Dirty() {
			continue
		}
		if v.Immutable {
			return fmt.Errorf("version %s: %w", id, domain.ErrEntityImmutable)
		}

		ch := v.Changes()
		body := versionPatchDTO{Status: ch.Status, Attrib: ch.Attrib}
		if err := h.c.rc.Do(ctx, http.MethodPatch, h.c.url("/api/projects/%s/versions/%s", h.project, id), body, nil); err != nil {
			return fmt.Errorf("patch version %s: %w", id, err)
		}
		v.ClearChanges()
	}
	return nil
}
