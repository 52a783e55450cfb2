package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pixelartvj/officesync/internal/client/models"
)

// BaaSTable is the PostgREST table holding synced records.
const BaaSTable = "sync_data"

// BaaS stores one row per record in a hosted PostgREST table:
// (user_id, entity_name, entity_id, data, updated_at).
type BaaS struct {
	baseURL string
	key     string
	client  *http.Client
}

func NewBaaS(baseURL, anonKey string, client *http.Client) *BaaS {
	return &BaaS{baseURL: strings.TrimRight(baseURL, "/"), key: anonKey, client: client}
}

type baasRow struct {
	UserID     string        `json:"user_id"`
	EntityName string        `json:"entity_name"`
	EntityID   string        `json:"entity_id"`
	Data       models.Record `json:"data"`
	UpdatedAt  string        `json:"updated_at,omitempty"`
}

func (b *BaaS) Name() string { return NameBaaS }

func (b *BaaS) headers() http.Header {
	h := http.Header{}
	h.Set("apikey", b.key)
	h.Set("Authorization", "Bearer "+b.key)
	return h
}

func (b *BaaS) tableURL(q url.Values) string {
	return b.baseURL + "/rest/v1/" + BaaSTable + "?" + q.Encode()
}

func (b *BaaS) FetchEntity(ctx context.Context, userID, entity string) ([]models.Record, error) {
	q := url.Values{}
	q.Set("select", "data")
	q.Set("user_id", "eq."+userID)
	q.Set("entity_name", "eq."+entity)

	var rows []baasRow
	if err := doJSON(ctx, b.client, http.MethodGet, b.tableURL(q), b.headers(), nil, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(rows))
	for _, r := range rows {
		if r.Data != nil {
			out = append(out, r.Data)
		}
	}
	return out, nil
}

func (b *BaaS) PushEntity(ctx context.Context, userID, entity string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]baasRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, baasRow{
			UserID:     userID,
			EntityName: entity,
			EntityID:   r.ID(),
			Data:       r,
			UpdatedAt:  updatedAt(r),
		})
	}

	q := url.Values{}
	q.Set("on_conflict", "user_id,entity_name,entity_id")
	h := b.headers()
	h.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	return doJSON(ctx, b.client, http.MethodPost, b.tableURL(q), h, rows, nil)
}

func (b *BaaS) DeleteRecord(ctx context.Context, userID, entity, id string) error {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("entity_name", "eq."+entity)
	q.Set("entity_id", "eq."+id)
	return doJSON(ctx, b.client, http.MethodDelete, b.tableURL(q), b.headers(), nil, nil)
}

func (b *BaaS) HealthCheck(ctx context.Context) error {
	return doJSON(ctx, b.client, http.MethodGet, b.baseURL+"/rest/v1/", b.headers(), nil, nil)
}

func updatedAt(r models.Record) string {
	t := r.Timestamp()
	if t.IsZero() {
		return ""
	}
	return models.FormatTime(t)
}
