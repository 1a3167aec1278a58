package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/agenttree/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate 处理 migrate 子命令：agenttree migrate [flags] <command> [arg]
func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = printMigrateUsage
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 || fs.Arg(0) == "help" {
		printMigrateUsage()
		if fs.NArg() == 0 {
			return 1
		}
		return 0
	}

	logger := zap.NewNop()
	var (
		m   *migration.DefaultMigrator
		err error
	)
	if *dbType != "" && *dbURL != "" {
		m, err = migration.NewMigratorFromURL(*dbType, *dbURL, logger)
	} else {
		cfg, loadErr := loadConfig(*configPath)
		if loadErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", loadErr)
			return 1
		}
		if *dbType != "" {
			cfg.Database.Driver = *dbType
		}
		m, err = migration.NewMigratorFromConfig(cfg.Database, logger)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		return 1
	}
	defer m.Close()

	if err := migrateWith(context.Background(), m, os.Stdout, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		return 1
	}
	return 0
}

// migrateWith 在给定迁移器上执行一个子命令
func migrateWith(ctx context.Context, m migration.Migrator, out io.Writer, args []string) error {
	cli := migration.NewCLI(m)
	cli.SetOutput(out)
	return cli.Run(ctx, args)
}

func printMigrateUsage() {
	fmt.Fprint(os.Stderr, `Database Migration Commands

Usage:
  agenttree migrate [options] <command> [arg]

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

`)
	fmt.Fprintln(os.Stderr, migration.Usage)
	fmt.Fprintln(os.Stderr, `
Examples:
  agenttree migrate up
  agenttree migrate --config /etc/agenttree/config.yaml status
  agenttree migrate --db-type sqlite --db-url "file:runs.db?mode=rwc" up
  agenttree migrate goto 1`)
}
