// Package store manages the PostgreSQL connection pool backing the
// delivery journal. The feed itself never touches the database; only the
// journal writer does, and only when journalling is enabled.
package store
