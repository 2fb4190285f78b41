package models

import "time"

// Account represents a followed profile fetched from the source API.
// Immutable within a job once fetched; re-scans overwrite stored rows.
type Account struct {
	ID              string     `json:"id" badgerhold:"key"`
	Username        string     `json:"username"`
	DisplayName     string     `json:"display_name"`
	Bio             string     `json:"bio,omitempty"`
	Verified        bool       `json:"verified"`
	FollowersCount  int        `json:"followers_count"`
	FollowingCount  int        `json:"following_count"`
	PostCount       int        `json:"post_count"`
	Location        string     `json:"location,omitempty"`
	Website         string     `json:"website,omitempty"`
	ProfileImageURL string     `json:"profile_image_url,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	FetchedAt       time.Time  `json:"fetched_at"`
}
