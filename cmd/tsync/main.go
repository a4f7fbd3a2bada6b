package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tuleapsync/internal/app"
	"tuleapsync/internal/config"
	"tuleapsync/internal/logging"
	"tuleapsync/internal/rest"
)

var rootCmd = &cobra.Command{
	Use:   "tsync",
	Short: "Tuleap sync client",
	Long: `tsync mirrors artifacts, milestones and plannings of a Tuleap server into a
local workspace and pushes edits back.
- Workspace: a directory holding tuleapsync.yml and the .tsync mirror database.
- Keys: every item is addressed as <project>:<tracker>#<item>; item 0 means "not created yet",
  and <project>:0#0 is the top planning of a project.
- Pull: fetch an item (with its planning for milestones) into the mirror.
- Push: send an edited item or planning back, then pull it again.
- Event log: every pull and push is recorded, view it with 'tsync log tail'.
Credentials come from TSYNC_USERNAME (or repository.username) and TSYNC_PASSWORD.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", errorMessage(err))
		os.Exit(1)
	}
}

// errorMessage surfaces remote messages as they are; an unsupported
// operation is a bug in tsync and only its detail is logged.
func errorMessage(err error) string {
	if errors.Is(err, rest.ErrUnsupportedLocal) {
		errorLogger().LogAttrs(context.Background(), slog.LevelDebug,
			"unsupported operation", slog.String("error", err.Error()))
		return "internal client error"
	}
	return err.Error()
}

var stderr io.Writer = os.Stderr

// errorLogger follows the workspace log settings, or --log-level when the
// workspace config cannot be read.
func errorLogger() *slog.Logger {
	lc := config.Log{Level: viper.GetString("log-level")}
	if cfg, err := loadConfig(); err == nil {
		lc = cfg.Log
	}
	return logging.New(lc, stderr)
}

func initConfig() {
	viper.SetEnvPrefix("TSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(artifactCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(pullCmd())
	rootCmd.AddCommand(pushCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ws, err := app.Open(ctx, app.Options{
		Dir:         viper.GetString("workspace"),
		Config:      cfg,
		Credentials: config.EnvCredentials{V: viper.GetViper(), Username: cfg.Repository.Username},
	})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

// withSession is withWorkspace for commands that talk to the server.
func withSession(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		if err := ws.Client.EnsureSession(ctx); err != nil {
			return err
		}
		return fn(ctx, ws)
	})
}
