package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pixelartvj/officesync/internal/client/models"
)

// REST is a generic resource API: {base}/{entity}[/{id}]?userId=.
type REST struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewREST(baseURL, token string, client *http.Client) *REST {
	return &REST{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

func (r *REST) Name() string { return NameREST }

func (r *REST) headers() http.Header {
	h := http.Header{}
	if r.token != "" {
		h.Set("Authorization", "Bearer "+r.token)
	}
	return h
}

func (r *REST) resourceURL(userID, entity, id string) string {
	u := r.baseURL + "/" + url.PathEscape(entity)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u + "?userId=" + url.QueryEscape(userID)
}

func (r *REST) FetchEntity(ctx context.Context, userID, entity string) ([]models.Record, error) {
	var out []models.Record
	if err := doJSON(ctx, r.client, http.MethodGet, r.resourceURL(userID, entity, ""), r.headers(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PushEntity PUTs every record to its own resource; the first failure
// stops the push.
func (r *REST) PushEntity(ctx context.Context, userID, entity string, records []models.Record) error {
	for _, rec := range records {
		if err := doJSON(ctx, r.client, http.MethodPut, r.resourceURL(userID, entity, rec.ID()), r.headers(), rec, nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *REST) DeleteRecord(ctx context.Context, userID, entity, id string) error {
	return doJSON(ctx, r.client, http.MethodDelete, r.resourceURL(userID, entity, id), r.headers(), nil, nil)
}

func (r *REST) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL, nil)
	if err != nil {
		return err
	}
	for k, vs := range r.headers() {
		req.Header[k] = vs
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &HTTPError{Method: http.MethodGet, URL: r.baseURL, Status: resp.StatusCode}
	}
	return nil
}
