package models

import "time"

// User is owned by the identity service; this core only reads profiles and
// bumps last_active_at.
type User struct {
	ID           int64      `bson:"_id" json:"id"`
	DisplayName  string     `bson:"display_name" json:"display_name"`
	Avatar       string     `bson:"avatar,omitempty" json:"avatar,omitempty"`
	LastActiveAt *time.Time `bson:"last_active_at,omitempty" json:"last_active_at,omitempty"`
}
