package models

import "time"

// Creator is a person attached to an item. Position 0 is the primary creator.
type Creator struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Item is a materialized record built from one data-model subject.
type Item struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Fields    map[string]string `json:"fields"`
	Creators  []Creator         `json:"creators,omitempty"`
	Snapshot  string            `json:"snapshot,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
