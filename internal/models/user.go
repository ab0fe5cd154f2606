package models

import "time"

type User struct {
	ID          int64     `json:"id" example:"1"`                        // User ID
	Username    string    `json:"username" example:"user_2348012345678"` // Generated from the phone number on first login
	PhoneNumber string    `json:"phone_number" example:"+2348012345678"` // User phone number
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
}
