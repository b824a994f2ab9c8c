package registry_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/davarch/regsync/internal/domain"
	"github.com/davarch/regsync/internal/infrastructure/rest"
)

// Client talks to the registry REST API with a bearer token.
type Client struct {
	baseURL string
	rc      *rest.Client

	mu      sync.Mutex
	cursors map[string]int
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		rc: rest.New(timeout, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+token)
		}),
		cursors: make(map[string]int),
	}
}

// REST exposes the transport so callers can tune retries.
func (c *Client) REST() *rest.Client { return c.rc }

func (c *Client) url(format string, args ...any) string {
	parts := make([]any, len(args))
	for i, a := range args {
		parts[i] = url.PathEscape(fmt.Sprint(a))
	}
	return c.baseURL + fmt.Sprintf(format, parts...)
}

func (c *Client) BaseMetaURL(baseID string) string {
	return c.url("/v0/meta/bases/%s", baseID)
}

type whoamiDTO struct {
	ID     string   `json:"id"`
	Scopes []string `json:"scopes"`
}

func (c *Client) VerifyToken(ctx context.Context) (domain.TokenInfo, error) {
	var out whoamiDTO
	if err := c.rc.Do(ctx, http.MethodGet, c.url("/v0/meta/whoami"), nil, &out); err != nil {
		return domain.TokenInfo{}, err
	}
	return domain.TokenInfo{UserID: out.ID, Scopes: out.Scopes}, nil
}

type basesDTO struct {
	Bases []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"bases"`
	Offset string `json:"offset"`
}

func (c *Client) ListBases(ctx context.Context) ([]domain.Base, error) {
	var out []domain.Base
	offset := ""
	for {
		u := c.url("/v0/meta/bases")
		if offset != "" {
			u += "?offset=" + url.QueryEscape(offset)
		}

		var page basesDTO
		if err := c.rc.Do(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		for _, b := range page.Bases {
			out = append(out, domain.Base{ID: b.ID, Name: b.Name})
		}
		if page.Offset == "" {
			return out, nil
		}
		offset = page.Offset
	}
}

type webhookDTO struct {
	ID              string `json:"id"`
	NotificationURL string `json:"notificationUrl"`
}

func (c *Client) ListSubscriptions(ctx context.Context, baseID string) ([]domain.Subscription, error) {
	var out struct {
		Webhooks []webhookDTO `json:"webhooks"`
	}
	if err := c.rc.Do(ctx, http.MethodGet, c.url("/v0/bases/%s/webhooks", baseID), nil, &out); err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(out.Webhooks))
	for _, w := range out.Webhooks {
		subs = append(subs, domain.Subscription{ID: w.ID, NotificationURL: w.NotificationURL})
	}
	return subs, nil
}

func (c *Client) CreateSubscription(ctx context.Context, baseID, notificationURL string) (domain.Subscription, error) {
	body := map[string]any{
		"notificationUrl": notificationURL,
		"specification": map[string]any{
			"options": map[string]any{
				"filters": map[string]any{
					"dataTypes":   []string{"tableData"},
					"changeTypes": []string{"update"},
				},
			},
		},
	}

	var out webhookDTO
	if err := c.rc.Do(ctx, http.MethodPost, c.url("/v0/bases/%s/webhooks", baseID), body, &out); err != nil {
		return domain.Subscription{}, err
	}
	return domain.Subscription{ID: out.ID, NotificationURL: notificationURL}, nil
}

func (c *Client) DeleteSubscription(ctx context.Context, baseID, subscriptionID string) error {
	if err := c.rc.Do(ctx, http.MethodDelete, c.url("/v0/bases/%s/webhooks/%s", baseID, subscriptionID), nil, nil); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.cursors, subscriptionID)
	c.mu.Unlock()
	return nil
}

type payloadPageDTO struct {
	Payloads      []json.RawMessage `json:"payloads"`
	Cursor        int               `json:"cursor"`
	MightHaveMore bool              `json:"mightHaveMore"`
}

type payloadDTO struct {
	BaseTransactionNumber int64 `json:"baseTransactionNumber"`
	ChangedTablesByID     map[string]struct {
		ChangedRecordsByID map[string]json.RawMessage `json:"changedRecordsById"`
		CreatedRecordsByID map[string]json.RawMessage `json:"createdRecordsById"`
	} `json:"changedTablesById"`
}

// Payloads returns the notifications queued after the acknowledged cursor
// of the subscription. The cursor only moves on AckPayloads.
func (c *Client) Payloads(ctx context.Context, baseID, subscriptionID string) (domain.PayloadBatch, error) {
	c.mu.Lock()
	cursor, ok := c.cursors[subscriptionID]
	c.mu.Unlock()
	if !ok {
		cursor = 1
	}

	var out []domain.ChangePayload
	for {
		u := c.url("/v0/bases/%s/webhooks/%s/payloads", baseID, subscriptionID) + "?cursor=" + strconv.Itoa(cursor)

		var page payloadPageDTO
		if err := c.rc.Do(ctx, http.MethodGet, u, nil, &page); err != nil {
			return domain.PayloadBatch{}, err
		}

		for _, raw := range page.Payloads {
			p, err := decodePayload(baseID, raw)
			if err != nil {
				return domain.PayloadBatch{}, err
			}
			out = append(out, p)
		}

		if page.Cursor <= cursor {
			break
		}
		cursor = page.Cursor
		if !page.MightHaveMore || len(page.Payloads) == 0 {
			break
		}
	}

	return domain.PayloadBatch{Payloads: out, Cursor: cursor}, nil
}

// AckPayloads moves the subscription cursor forward. Older cursors are
// ignored.
func (c *Client) AckPayloads(subscriptionID string, cursor int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cursor > c.cursors[subscriptionID] {
		c.cursors[subscriptionID] = cursor
	}
}

func decodePayload(baseID string, raw json.RawMessage) (domain.ChangePayload, error) {
	var dto payloadDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return domain.ChangePayload{}, fmt.Errorf("decode payload: %w", err)
	}

	changed := make(map[string][]string, len(dto.ChangedTablesByID))
	for table, t := range dto.ChangedTablesByID {
		ids := make([]string, 0, len(t.ChangedRecordsByID)+len(t.CreatedRecordsByID))
		for id := range t.ChangedRecordsByID {
			ids = append(ids, id)
		}
		for id := range t.CreatedRecordsByID {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		changed[table] = ids
	}

	return domain.ChangePayload{
		PayloadID: strconv.FormatInt(dto.BaseTransactionNumber, 10),
		BaseID:    baseID,
		Changed:   changed,
		Raw:       raw,
	}, nil
}

type recordDTO struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (c *Client) ListRecords(ctx context.Context, baseID, table string) ([]domain.RegistryRecord, error) {
	var out []domain.RegistryRecord
	offset := ""
	for {
		u := c.url("/v0/%s/%s", baseID, table)
		if offset != "" {
			u += "?offset=" + url.QueryEscape(offset)
		}

		var page struct {
			Records []recordDTO `json:"records"`
			Offset  string      `json:"offset"`
		}
		if err := c.rc.Do(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Records {
			out = append(out, domain.RegistryRecord{ID: r.ID, Fields: r.Fields})
		}
		if page.Offset == "" {
			return out, nil
		}
		offset = page.Offset
	}
}

func (c *Client) GetRecord(ctx context.Context, baseID, table, recordID string) (domain.RegistryRecord, error) {
	var r recordDTO
	if err := c.rc.Do(ctx, http.MethodGet, c.url("/v0/%s/%s/%s", baseID, table, recordID), nil, &r); err != nil {
		return domain.RegistryRecord{}, err
	}
	return domain.RegistryRecord{ID: r.ID, Fields: r.Fields}, nil
}

type writeDTO struct {
	Fields   map[string]any `json:"fields"`
	Typecast bool           `json:"typecast"`
}

func (c *Client) CreateRecord(ctx context.Context, baseID, table string, fields map[string]any) (domain.RegistryRecord, error) {
	var r recordDTO
	if err := c.rc.Do(ctx, http.MethodPost, c.url("/v0/%s/%s", baseID, table), writeDTO{Fields: fields, Typecast: true}, &r); err != nil {
		return domain.RegistryRecord{}, err
	}
	return domain.RegistryRecord{ID: r.ID, Fields: r.Fields}, nil
}

// ReplaceRecord overwrites every field of the record; fields left out are
// cleared.
func (c *Client) ReplaceRecord(ctx context.Context, baseID, table, recordID string, fields map[string]any) (domain.RegistryRecord, error) {
	var r recordDTO
	if err := c.rc.Do(ctx, http.MethodPut, c.url("/v0/%s/%s/%s", baseID, table, recordID), writeDTO{Fields: fields, Typecast: true}, &r); err != nil {
		return domain.RegistryRecord{}, err
	}
	return domain.RegistryRecord{ID: r.ID, Fields: r.Fields}, nil
}

type tableDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) ListTables(ctx context.Context, baseID string) ([]domain.Table, error) {
	var out struct {
		Tables []tableDTO `json:"tables"`
	}
	if err := c.rc.Do(ctx, http.MethodGet, c.url("/v0/meta/bases/%s/tables", baseID), nil, &out); err != nil {
		return nil, err
	}

	tables := make([]domain.Table, 0, len(out.Tables))
	for _, t := range out.Tables {
		tables = append(tables, domain.Table{ID: t.ID, Name: t.Name})
	}
	return tables, nil
}

type choiceDTO struct {
	Name string `json:"name"`
}

type fieldDTO struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Options map[string]any `json:"options,omitempty"`
}

func (c *Client) CreateTable(ctx context.Context, baseID string, schema domain.TableSchema) (domain.Table, error) {
	fields := make([]fieldDTO, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		fd := fieldDTO{Name: f.Name, Type: string(f.Type)}
		if f.Type == domain.FieldSingleSelect || f.Type == domain.FieldMultiSelect {
			choices := make([]choiceDTO, 0, len(f.Choices))
			for _, ch := range f.Choices {
				choices = append(choices, choiceDTO{Name: ch})
			}
			fd.Options = map[string]any{"choices": choices}
		}
		fields = append(fields, fd)
	}

	body := map[string]any{"name": schema.Name, "fields": fields}

	var out tableDTO
	if err := c.rc.Do(ctx, http.MethodPost, c.url("/v0/meta/bases/%s/tables", baseID), body, &out); err != nil {
		return domain.Table{}, err
	}
	return domain.Table{ID: out.ID, Name: out.Name}, nil
}
