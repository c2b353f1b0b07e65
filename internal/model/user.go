package model

import "time"

type User struct {
	ID           string    `db:"id" json:"id"`
	DisplayName  string    `db:"display_name" json:"displayName"`
	Email        string    `db:"email" json:"email"`
	APIKey       string    `db:"api_key" json:"-"`
	Status       string    `db:"status" json:"status"` // active|suspended
	RateLimitRPS *int      `db:"rate_limit_rps" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"-"`
}
