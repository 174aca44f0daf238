package model

import (
	"slices"
	"time"
)

// App represents a tenant registry entry. Each app owns one tenant database
// whose collections are listed here; the registry entry is the source of
// truth for which collections exist.
type App struct {
	ID          string    `bson:"_id" json:"id"`
	Name        string    `bson:"name" json:"name"`
	Owner       string    `bson:"owner" json:"owner"`
	Collections []string  `bson:"collections" json:"collections"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// HasCollection reports whether the app registry lists the named collection.
func (a *App) HasCollection(name string) bool {
	return slices.Contains(a.Collections, name)
}
