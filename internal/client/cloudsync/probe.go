package cloudsync

import (
	"context"
	"net/http"

	"github.com/pixelartvj/officesync/internal/netx"
)

// Prober answers whether the network is usable right now.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// HTTPProber issues a HEAD request to a well-known URL.
type HTTPProber struct {
	Client *http.Client
	URL    string
}

func (p HTTPProber) Reachable(ctx context.Context) bool {
	return netx.Reachable(ctx, p.Client, p.URL)
}

// StaticProber always gives the same answer.
type StaticProber bool

func (p StaticProber) Reachable(context.Context) bool { return bool(p) }
