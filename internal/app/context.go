// Package app wires a workspace into a ready-to-use engine. The CLI and the
// serve command both go through here so the open-migrate-build sequence stays
// in one place.
package app

import (
	"database/sql"
	"fmt"

	"vedtaksync/internal/clients"
	"vedtaksync/internal/config"
	"vedtaksync/internal/db"
	"vedtaksync/internal/engine"
	"vedtaksync/internal/migrate"
)

// Open ensures the workspace exists, opens its database, and applies pending
// migrations. The caller owns the returned handle.
func Open(workspace string) (*sql.DB, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(workspace), err)
	}
	return conn, nil
}

// BuildEngine assembles an engine over an open database. The renderer comes
// from config; without a configured renderer service documents are rendered
// locally as plain text.
func BuildEngine(conn *sql.DB, cfg *config.Config) engine.Engine {
	return engine.New(conn, Renderer(cfg))
}

// Renderer picks the document renderer for a config.
func Renderer(cfg *config.Config) clients.DocumentRenderer {
	if cfg.Clients.Renderer.BaseURL == "" {
		return clients.TextRenderer{}
	}
	return clients.NewHTTPRenderer(cfg.Clients.Renderer.BaseURL, cfg.Clients.Timeout.Std())
}
