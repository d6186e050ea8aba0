// Command reconcile runs the reconciliation engine from the command line.
// Every subcommand prints its report as JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/eksporyuk/backend/internal/app"
	"github.com/eksporyuk/backend/internal/config"
	"github.com/eksporyuk/backend/internal/database"
	"github.com/eksporyuk/backend/internal/logger"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// env is what every subcommand needs once the database is open
type env struct {
	services *app.Services
	log      *logrus.Logger
	out      io.Writer
}

var rootCmd = &cobra.Command{
	Use:           "reconcile",
	Short:         "Reconcile commissions, wallets and membership entitlements",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("reconcile failed")
		os.Exit(1)
	}
}

// setup loads configuration, opens the database and wires the services.
// Logs go to stderr so stdout stays valid JSON.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.NewWithOutput(cfg.Log, cfg.Environment, cmd.ErrOrStderr())
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	return &env{
		services: app.New(cfg, db, nil, nil, log),
		log:      log,
		out:      cmd.OutOrStdout(),
	}, nil
}

func (e *env) print(v interface{}) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// run wraps a subcommand body with setup
func run(fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		return fn(cmd.Context(), e, args)
	}
}

func parseUserIDs(raw []string) ([]models.UserID, error) {
	ids := make([]models.UserID, 0, len(raw))
	for _, s := range raw {
		id, err := models.ParseUserID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
