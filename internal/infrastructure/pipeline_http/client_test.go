package pipeline_http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davarch/regsync/internal/domain"
)

type recorded struct {
	Method string
	Path   string
	Body   map[string]any
}

type fakeServer struct {
	mu   sync.Mutex
	reqs []recorded
}

func (f *fakeServer) record(r *http.Request) map[string]any {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.reqs = append(f.reqs, recorded{Method: r.Method, Path: r.URL.Path, Body: body})
	f.mu.Unlock()
	return body
}

func (f *fakeServer) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reqs {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "key1" || r.Header.Get("X-Sender-Type") != "regsync" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "key1", "regsync-processor", "regsync", time.Second)
	c.REST().InitialInterval = time.Millisecond
	c.REST().MaxElapsedTime = 200 * time.Millisecond
	return c
}

func TestEnroll(t *testing.T) {
	fs := &fakeServer{}
	var empty atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/enroll", func(w http.ResponseWriter, r *http.Request) {
		body := fs.record(r)
		assert.Equal(t, []any{"entity.version.created", "entity.version.status_changed"}, body["sourceTopic"])
		assert.Equal(t, []any{"regsync"}, body["ignoreSenderTypes"])
		assert.NotContains(t, body, "sequential")
		if empty.Load() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, map[string]any{"id": "evt2", "dependsOn": "evt1", "hash": "h"})
	})

	c := newTestClient(t, mux)
	req := domain.EnrollRequest{
		SourceTopics:      []string{"entity.version.created", "entity.version.status_changed"},
		TargetTopic:       "registry.push",
		Sender:            "regsync-transmitter",
		MaxRetries:        2,
		IgnoreSenderTypes: []string{"regsync"},
	}

	ev, err := c.Enroll(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "evt2", ev.ID)
	assert.Equal(t, "evt1", ev.DependsOn)
	assert.Equal(t, "registry.push", ev.Topic)

	empty.Store(true)
	ev, err = c.Enroll(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestEventUpdateAndDispatch(t *testing.T) {
	fs := &fakeServer{}
	var patch, posted map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events/evt1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id": "evt1", "topic": "entity.version.created", "project": "Ep01", "senderType": "pipeline",
			"summary": map[string]any{"entityId": "abc123", "parentId": "prd1"},
			"payload": map[string]any{"x": 1},
		})
	})
	mux.HandleFunc("PATCH /api/events/evt2", func(w http.ResponseWriter, r *http.Request) {
		patch = fs.record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/events", func(w http.ResponseWriter, r *http.Request) {
		posted = fs.record(r)
		writeJSON(w, map[string]string{"id": "evt9"})
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	ev, err := c.Event(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, "Ep01", ev.Project)
	assert.Equal(t, "abc123", ev.SummaryString("entityId"))
	assert.JSONEq(t, `{"x":1}`, string(ev.Payload))

	err = c.Update(ctx, "evt2", domain.EventUpdate{
		Status:  domain.EventFailed,
		Project: "Ep01",
		Payload: map[string]string{"message": "boom"},
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", patch["status"])
	assert.Equal(t, "Ep01", patch["project"])
	assert.NotContains(t, patch, "description")

	id, err := c.Dispatch(ctx, domain.DispatchRequest{Topic: "registry.change", Hash: "pl-1", Payload: map[string]any{"payloads": []any{}}})
	require.NoError(t, err)
	assert.Equal(t, "evt9", id)
	assert.Equal(t, "registry.change", posted["topic"])
	assert.Equal(t, "pl-1", posted["hash"])
}

func TestSecretAndProject(t *testing.T) {
	var attrPatch map[string]any
	fs := &fakeServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/secrets/airtable_pat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"name": "airtable_pat", "value": "pat123"})
	})
	mux.HandleFunc("GET /api/secrets/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /api/projects/Ep01", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"name":      "Ep01",
			"attrib":    map[string]any{"registryPush": true},
			"statuses":  []map[string]string{{"name": "In Progress"}, {"name": "Approved"}},
			"taskTypes": []map[string]string{{"name": "comp"}},
		})
	})
	mux.HandleFunc("PATCH /api/projects/Ep01", func(w http.ResponseWriter, r *http.Request) {
		attrPatch = fs.record(r)
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	v, err := c.Secret(ctx, "airtable_pat")
	require.NoError(t, err)
	assert.Equal(t, "pat123", v)

	_, err = c.Secret(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	p, err := c.Project(ctx, "Ep01")
	require.NoError(t, err)
	assert.True(t, p.BoolAttrib(domain.AttribRegistryPush))
	assert.Equal(t, []string{"In Progress", "Approved"}, p.Statuses)
	assert.Equal(t, []string{"comp"}, p.TaskTypes)

	require.NoError(t, c.SetProjectAttrib(ctx, "Ep01", domain.AttribRegistryPush, false))
	assert.Equal(t, map[string]any{"registryPush": false}, attrPatch["attrib"])
}

func TestHub_CommitSendsOnePatchPerVersion(t *testing.T) {
	fs := &fakeServer{}
	var patch map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/projects/Ep01/versions/v1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id": "v1", "productId": "prd1", "taskId": "tsk1", "version": 3, "status": "In Progress",
			"attrib": map[string]any{"registryId": "app1", "fps": 25},
		})
	})
	mux.HandleFunc("PATCH /api/projects/Ep01/versions/v1", func(w http.ResponseWriter, r *http.Request) {
		patch = fs.record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/projects/Ep01/versions/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := newTestClient(t, mux)
	ctx := context.Background()
	h := c.Hub("Ep01")

	v, err := h.Version(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 3, v.Number)
	assert.Equal(t, "app1", v.Attrib["registryId"])

	again, err := h.Version(ctx, "v1")
	require.NoError(t, err)
	assert.Same(t, v, again)

	missing, err := h.Version(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, v.SetStatus("Approved"))
	require.NoError(t, v.SetAttrib(domain.AttribRegistryID, "app1"))
	require.NoError(t, v.SetAttrib(domain.AttribRegistryPath, "https://registry.test/v0/meta/bases/app1"))
	require.NoError(t, h.Commit(ctx))

	assert.Equal(t, 1, fs.count(http.MethodPatch, "/api/projects/Ep01/versions/v1"))
	assert.Equal(t, "Approved", patch["status"])
	assert.Equal(t, map[string]any{"registryPath": "https://registry.test/v0/meta/bases/app1"}, patch["attrib"])
	assert.False(t, v.Dirty())

	require.NoError(t, h.Commit(ctx))
	assert.Equal(t, 1, fs.count(http.MethodPatch, "/api/projects/Ep01/versions/v1"))
}

func TestHub_ProductAndTask(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/projects/Ep01/products/prd1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"id": "prd1", "name": "sh010"})
	})
	mux.HandleFunc("GET /api/projects/Ep01/tasks/tsk1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"id": "tsk1", "taskType": "comp"})
	})

	h := newTestClient(t, mux).Hub("Ep01")
	ctx := context.Background()

	p, err := h.Product(ctx, "prd1")
	require.NoError(t, err)
	assert.Equal(t, "sh010", p.Name)

	tk, err := h.Task(ctx, "tsk1")
	require.NoError(t, err)
	assert.Equal(t, "comp", tk.TaskType)

	none, err := h.Product(ctx, "prd404")
	require.NoError(t, err)
	assert.Nil(t, none)
}
