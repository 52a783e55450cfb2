// Package providers implements the remote storage backends the sync engine
// can talk to, behind one interface, and picks one from configuration.
package providers

import (
	"context"
	"errors"

	"github.com/pixelartvj/officesync/internal/client/models"
)

// Provider names.
const (
	NameBackend     = "custom-backend"
	NameGist        = "gist"
	NameBaaS        = "baas"
	NameREST        = "rest"
	NameObjectStore = "objectstore"
	NameDisabled    = "disabled"
)

var ErrDisabled = errors.New("cloud sync disabled")

// ErrGistAccount reports a gist token issued for another account.
var ErrGistAccount = errors.New("gist account mismatch")

// Provider stores per-user entity collections remotely.
type Provider interface {
	Name() string
	// FetchEntity returns every remote record of entity for userID; an
	// empty collection is not an error.
	FetchEntity(ctx context.Context, userID, entity string) ([]models.Record, error)
	// PushEntity upserts records by id.
	PushEntity(ctx context.Context, userID, entity string, records []models.Record) error
	HealthCheck(ctx context.Context) error
}

// Deleter is implemented by providers that can remove a single record.
type Deleter interface {
	DeleteRecord(ctx context.Context, userID, entity, id string) error
}

// IsDisabled reports whether p performs no remote work.
func IsDisabled(p Provider) bool {
	return p == nil || p.Name() == NameDisabled
}

// Disabled is the inert provider used when nothing is configured.
type Disabled struct{}

func (Disabled) Name() string { return NameDisabled }

func (Disabled) FetchEntity(context.Context, string, string) ([]models.Record, error) {
	return nil, ErrDisabled
}

func (Disabled) PushEntity(context.Context, string, string, []models.Record) error {
	return ErrDisabled
}

func (Disabled) HealthCheck(context.Context) error { return ErrDisabled }

// mergeByID returns existing with every incoming record upserted by id.
// Order is preserved and new ids are appended.
func mergeByID(existing, incoming []models.Record) []models.Record {
	out := make([]models.Record, 0, len(existing)+len(incoming))
	pos := make(map[string]int, len(existing))
	for _, r := range existing {
		pos[r.ID()] = len(out)
		out = append(out, r)
	}
	for _, r := range incoming {
		if i, ok := pos[r.ID()]; ok {
			out[i] = r
			continue
		}
		pos[r.ID()] = len(out)
		out = append(out, r)
	}
	return out
}

func withoutID(recs []models.Record, id string) []models.Record {
	out := make([]models.Record, 0, len(recs))
	for _, r := range recs {
		if r.ID() != id {
			out = append(out, r)
		}
	}
	return out
}
