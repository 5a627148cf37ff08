package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/Actunime/Actunime-API-sub000/pkg/configuration"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(args[0])
		},
	}
}

func migrate(direction string) error {
	conf := configuration.Use()

	db, err := sql.Open("pgx", conf.Database.Opts)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch direction {
	case "up":
		return goose.Up(db, conf.MigrationsDir)
	case "down":
		return goose.Down(db, conf.MigrationsDir)
	case "status":
		return goose.Status(db, conf.MigrationsDir)
	}
	return fmt.Errorf("unknown migration direction %q", direction)
}
