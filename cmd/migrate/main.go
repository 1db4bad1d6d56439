package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"simoj/internal/common/db"
	"simoj/internal/common/db/migrations"
	"simoj/pkg/utils/logger"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

const dsnEnv = "SIMOJ_MYSQL_DSN"

func main() {
	dsn := flag.String("dsn", os.Getenv(dsnEnv), "MySQL DSN, defaults to $"+dsnEnv)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [-dsn DSN] up|down|version|force VERSION\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 || *dsn == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := logger.Init(logger.Config{Level: "info", Format: "console"}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(*dsn, flag.Args()); err != nil {
		logger.Error(context.Background(), "migration failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(dsn string, args []string) error {
	migrationDSN, err := multiStatementDSN(dsn)
	if err != nil {
		return err
	}
	conn, err := db.NewMySQL(migrationDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	m, err := migrations.NewMigrator(conn.SQLDB())
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Close()
	}()

	ctx := context.Background()
	switch args[0] {
	case "up":
		if err := m.Up(); err != nil {
			return err
		}
	case "down":
		if err := m.Down(); err != nil {
			return err
		}
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("force needs a version")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	logger.Info(ctx, "schema version", zap.String("command", args[0]), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// multiStatementDSN enables multiStatements, which the migration files need.
func multiStatementDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid dsn: %w", err)
	}
	cfg.MultiStatements = true
	return cfg.FormatDSN(), nil
}
