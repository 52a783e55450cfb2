package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pixelartvj/officesync/internal/client/models"
)

const (
	DefaultGistAPIURL = "https://api.github.com"
	GistDescription   = "officesync-data"
)

// Gist keeps one private gist per account, with one file per user and
// entity. When username is set, the token must belong to that account.
type Gist struct {
	apiURL   string
	token    string
	username string
	client   *http.Client

	mu     sync.Mutex
	gistID string
}

func NewGist(apiURL, token, username string, client *http.Client) *Gist {
	if apiURL == "" {
		apiURL = DefaultGistAPIURL
	}
	return &Gist{apiURL: strings.TrimRight(apiURL, "/"), token: token, username: username, client: client}
}

type gistFile struct {
	Filename  string `json:"filename,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	RawURL    string `json:"raw_url,omitempty"`
}

type gist struct {
	ID          string              `json:"id,omitempty"`
	Description string              `json:"description,omitempty"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

func (g *Gist) Name() string { return NameGist }

func (g *Gist) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+g.token)
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	return h
}

func gistFileName(userID, entity string) string {
	return fmt.Sprintf("officesync_%s_%s.json", userID, entity)
}

// findGist returns the id of the data gist, or "" when it does not exist
// yet.
func (g *Gist) findGist(ctx context.Context) (string, error) {
	g.mu.Lock()
	id := g.gistID
	g.mu.Unlock()
	if id != "" {
		return id, nil
	}

	var list []gist
	if err := doJSON(ctx, g.client, http.MethodGet, g.apiURL+"/gists?per_page=100", g.headers(), nil, &list); err != nil {
		return "", err
	}
	for _, it := range list {
		if it.Description == GistDescription {
			g.mu.Lock()
			g.gistID = it.ID
			g.mu.Unlock()
			return it.ID, nil
		}
	}
	return "", nil
}

func (g *Gist) readFile(ctx context.Context, gistID, name string) ([]models.Record, error) {
	var full gist
	if err := doJSON(ctx, g.client, http.MethodGet, g.apiURL+"/gists/"+url.PathEscape(gistID), g.headers(), nil, &full); err != nil {
		return nil, err
	}
	f, ok := full.Files[name]
	if !ok {
		return nil, nil
	}

	var out []models.Record
	if f.Truncated && f.RawURL != "" {
		if err := doJSON(ctx, g.client, http.MethodGet, f.RawURL, g.headers(), nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if strings.TrimSpace(f.Content) == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(f.Content), &out); err != nil {
		return nil, fmt.Errorf("gist file %s: %w", name, err)
	}
	return out, nil
}

func (g *Gist) FetchEntity(ctx context.Context, userID, entity string) ([]models.Record, error) {
	id, err := g.findGist(ctx)
	if err != nil || id == "" {
		return nil, err
	}
	return g.readFile(ctx, id, gistFileName(userID, entity))
}

func (g *Gist) writeFile(ctx context.Context, gistID, name string, recs []models.Record) error {
	content, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	body := gist{Files: map[string]gistFile{name: {Content: string(content)}}}

	if gistID != "" {
		return doJSON(ctx, g.client, http.MethodPatch, g.apiURL+"/gists/"+url.PathEscape(gistID), g.headers(), body, nil)
	}

	body.Description = GistDescription
	var created gist
	if err := doJSON(ctx, g.client, http.MethodPost, g.apiURL+"/gists", g.headers(), body, &created); err != nil {
		return err
	}
	g.mu.Lock()
	g.gistID = created.ID
	g.mu.Unlock()
	return nil
}

func (g *Gist) PushEntity(ctx context.Context, userID, entity string, records []models.Record) error {
	id, err := g.findGist(ctx)
	if err != nil {
		return err
	}
	name := gistFileName(userID, entity)

	var current []models.Record
	if id != "" {
		if current, err = g.readFile(ctx, id, name); err != nil {
			return err
		}
	}
	return g.writeFile(ctx, id, name, mergeByID(current, records))
}

func (g *Gist) DeleteRecord(ctx context.Context, userID, entity, recordID string) error {
	id, err := g.findGist(ctx)
	if err != nil || id == "" {
		return err
	}
	name := gistFileName(userID, entity)
	current, err := g.readFile(ctx, id, name)
	if err != nil {
		return err
	}
	return g.writeFile(ctx, id, name, withoutID(current, recordID))
}

// HealthCheck verifies the token and, with a configured username, that it
// belongs to that account.
func (g *Gist) HealthCheck(ctx context.Context) error {
	var me struct {
		Login string `json:"login"`
	}
	if err := doJSON(ctx, g.client, http.MethodGet, g.apiURL+"/user", g.headers(), nil, &me); err != nil {
		return err
	}
	if g.username != "" && !strings.EqualFold(me.Login, g.username) {
		return fmt.Errorf("%w: token belongs to %q, expected %q", ErrGistAccount, me.Login, g.username)
	}
	return nil
}
