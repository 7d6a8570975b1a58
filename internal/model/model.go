// Package model defines domain entities shared by the client layers.
package model

import "time"

// Tokens is the credential pair returned by the auth endpoints.
// Either field may be empty independently.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Identity is the cached user identity persisted alongside the tokens so the
// UI can render "probably logged in" at startup without a network round trip.
type Identity struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Item is a single gallery image as presented to the client. Items are unique
// by ID within one fetch result; presentation order is newest-first by
// UploadedAt, re-sorted on the client.
type Item struct {
	ID         int64
	Caption    string
	ImageRef   string // URL or data URL
	UploadedAt time.Time
	Status     string
}
