package models

// Change operations announced on the feed.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// ChangeEvent tells subscribed clients that an entity collection changed.
type ChangeEvent struct {
	Entity string `json:"entity"`
	ItemID string `json:"itemId,omitempty"`
	Op     string `json:"op,omitempty"`
}
