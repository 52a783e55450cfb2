package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pixelartvj/officesync/internal/common"
)

var errForbidden = errors.New("forbidden")

type ctxKey int

const callerKey ctxKey = iota

// caller identifies who made a request. With the API key there is no user.
type caller struct {
	userID string
	apiKey bool
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey).(caller)
	return c
}

// identify accepts a matching X-API-Key or a valid bearer access token.
func (s *Server) identify(r *http.Request) (caller, error) {
	if key := r.Header.Get(common.APIKeyHeaderName); key != "" && s.apiKey != "" &&
		subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1 {
		return caller{apiKey: true}, nil
	}

	authz := r.Header.Get(common.AuthorizationHeaderName)
	if !strings.HasPrefix(authz, common.BearerPrefix) {
		return caller{}, common.ErrorUnauthorized
	}
	userID, err := s.users.Authenticate(strings.TrimPrefix(authz, common.BearerPrefix))
	if err != nil {
		return caller{}, err
	}
	return caller{userID: userID}, nil
}

// authorize guards routes with a {userId} segment. Token holders may only
// reach their own data.
func (s *Server) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.identify(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !c.apiKey && c.userID != r.PathValue("userId") {
			s.writeError(w, r, errForbidden)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey, c)))
	}
}

// requireUser guards routes that act on behalf of a signed-in user.
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get(common.AuthorizationHeaderName)
		if !strings.HasPrefix(authz, common.BearerPrefix) {
			s.writeError(w, r, common.ErrorUnauthorized)
			return
		}
		userID, err := s.users.Authenticate(strings.TrimPrefix(authz, common.BearerPrefix))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller{userID: userID})))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack lets the feed upgrade to a websocket through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error(r.Context(), "handler panic", "panic", p, "path", r.URL.Path)
				s.writeError(w, r, common.ErrorInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
