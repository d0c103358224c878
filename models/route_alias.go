package models

import (
	"time"
)

// RouteAlias is a stored alias that expands into one or more model identifiers.
// Targets are tried in order.
type RouteAlias struct {
	Name      string    `json:"name" db:"name"`
	Targets   []string  `json:"targets" db:"targets"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the RouteAlias model
func (RouteAlias) TableName() string {
	return "route_aliases"
}

// NewRouteAlias creates a new alias
func NewRouteAlias(name string, targets ...string) *RouteAlias {
	return &RouteAlias{
		Name:      name,
		Targets:   targets,
		UpdatedAt: time.Now(),
	}
}
