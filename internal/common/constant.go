package common

const (
	// APIKeyHeaderName carries the static backend API key on sync requests.
	APIKeyHeaderName = "X-API-Key"

	// AuthorizationHeaderName carries a bearer access token.
	AuthorizationHeaderName = "Authorization"

	// BearerPrefix precedes the token in the Authorization header.
	BearerPrefix = "Bearer "
)
