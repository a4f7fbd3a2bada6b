// Package app wires a workspace: its config, mirror database, tracker client
// and sync engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"tuleapsync/internal/client"
	"tuleapsync/internal/config"
	"tuleapsync/internal/db"
	"tuleapsync/internal/engine"
	"tuleapsync/internal/logging"
	"tuleapsync/internal/migrate"
)

type Options struct {
	Dir string
	// Credentials defaults to config.EnvCredentials over the global viper.
	Credentials client.CredentialsProvider
	// LogOutput defaults to stderr.
	LogOutput io.Writer
	// Config skips loading tuleapsync.yml when set.
	Config *config.Config
}

// Workspace is an opened workspace. Close releases the database.
type Workspace struct {
	Dir    string
	Config *config.Config
	DB     *sql.DB
	Client *client.Client
	Engine engine.Engine
	Logger *slog.Logger
}

// Open loads the workspace config, opens and migrates the mirror and builds
// the engine.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(dir)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := logging.New(cfg.Log, out)

	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate mirror: %w", err)
	}

	cc := cfg.ClientConfig()
	cc.Credentials = opts.Credentials
	if cc.Credentials == nil {
		cc.Credentials = config.EnvCredentials{Username: cfg.Repository.Username}
	}
	cc.Logger = logger
	c := client.New(cc)
	logger.LogAttrs(ctx, slog.LevelDebug, "workspace opened",
		slog.String("dir", dir),
		slog.String("server", cfg.Repository.URL),
	)
	return &Workspace{
		Dir:    dir,
		Config: cfg,
		DB:     conn,
		Client: c,
		Engine: engine.New(conn, c, logger),
		Logger: logger,
	}, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
