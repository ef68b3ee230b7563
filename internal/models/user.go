package models

// User is the minimal profile record the chat service needs to enrich inbox
// rows. Account management lives in the auth service.
type User struct {
	ID          string `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	AvatarURL   string `db:"avatar_url" json:"avatar_url,omitempty"`
}
