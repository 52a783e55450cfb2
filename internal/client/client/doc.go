// Package client is the officesync client's transport to the sync backend
// for everything that is not record sync: login, token refresh, liveness
// and backup upload presigning.
//
// # Error Handling
//
// Network failures and 5xx responses are reported as ErrUnavailable, a 401
// as ErrUnauthorized; callers match them with errors.Is.
package client
