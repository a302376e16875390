// Package main is the entrypoint for the action gateway (binary "actiongate").
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/morezero/action-gateway/internal/config"
	"github.com/morezero/action-gateway/internal/server"
	"github.com/morezero/action-gateway/pkg/bootstrap"
	"github.com/morezero/action-gateway/pkg/db"
)

const usage = `Usage: actiongate [command]
       actiongate serve                 Start the gateway (HTTP, action dispatch, events).
       actiongate migrate up            Run database migrations.
       actiongate migrate status        Show migration status.
       actiongate rotate-secret         Delete the stored site secret; a new one is created on next start.
       actiongate hash-password [pw]    Print a bcrypt hash for a manifest user (reads stdin when pw is omitted).
       actiongate check-manifest [file] Validate an action manifest and list its actions.

Commands:
  serve           (default) Start the action gateway.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  rotate-secret   Invalidate every outstanding token and session cookie.
  hash-password   Hash a password for the users section of the manifest.
  check-manifest  Load a manifest (default ACTIONS_MANIFEST or config/actions.yaml) and report errors.

Environment: DATABASE_URL or SITE_SECRET (serve), SITE_URL, ACTIONS_MANIFEST, MIGRATION_PATH, HTTP_PORT. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("actiongate migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("actiongate migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("actiongate migrate status: %v", err)
			}
		default:
			log.Fatalf("actiongate migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "rotate-secret":
		if err := runRotateSecret(); err != nil {
			log.Fatalf("actiongate rotate-secret: %v", err)
		}
		return
	case "hash-password":
		pw := ""
		if len(args) > 1 {
			pw = args[1]
		}
		if err := runHashPassword(os.Stdout, os.Stdin, pw); err != nil {
			log.Fatalf("actiongate hash-password: %v", err)
		}
		return
	case "check-manifest":
		file := ""
		if len(args) > 1 {
			file = args[1]
		}
		if err := runCheckManifest(os.Stdout, file); err != nil {
			log.Fatalf("actiongate check-manifest: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("actiongate: %v", err)
	}
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	states, err := db.MigrationStatus(ctx, pool, migrations)
	if err != nil {
		return err
	}
	printMigrationStatus(os.Stdout, states)
	return nil
}

func printMigrationStatus(out io.Writer, states []db.MigrationState) {
	pending := 0
	for _, st := range states {
		if st.Applied {
			fmt.Fprintf(out, "  applied  %-40s %s\n", st.Name, st.AppliedAt.UTC().Format(time.RFC3339))
			continue
		}
		pending++
		fmt.Fprintf(out, "  pending  %s\n", st.Name)
	}
	if pending > 0 {
		fmt.Fprintf(out, "%d of %d migrations pending (run 'actiongate migrate up').\n", pending, len(states))
		return
	}
	fmt.Fprintf(out, "Schema up to date (%d migrations).\n", len(states))
}

func runRotateSecret() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.ClearSiteSecret(ctx, pool); err != nil {
		return err
	}
	fmt.Println("Site secret cleared; restart the gateway to generate a new one.")
	return nil
}

// runHashPassword writes the bcrypt hash of pw, or of the first line of in
// when pw is empty.
func runHashPassword(out io.Writer, in io.Reader, pw string) error {
	if pw == "" {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read password: %w", err)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if pw == "" {
		return fmt.Errorf("empty password")
	}
	hash, err := bootstrap.HashPassword(pw)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}

// runCheckManifest validates file, falling back to ACTIONS_MANIFEST and the
// default search paths.
func runCheckManifest(out io.Writer, file string) error {
	if file == "" {
		file = os.Getenv("ACTIONS_MANIFEST")
	}
	var (
		m   *bootstrap.Manifest
		src string
		err error
	)
	if file != "" {
		m, err = bootstrap.LoadFile(file)
		src = file
	} else {
		m, src, err = bootstrap.LoadManifest()
	}
	if err != nil {
		return err
	}
	if src == "" {
		return fmt.Errorf("no manifest found (tried %s)", strings.Join(bootstrap.DefaultPaths, ", "))
	}

	fmt.Fprintf(out, "%s: version %s, %d actions, %d users, %d exemptions\n",
		src, m.Version, len(m.Actions), len(m.Users), len(m.Exempt))
	for _, a := range m.Actions {
		access := "logged in"
		switch {
		case a.AdminOnly:
			access = "admin"
		case a.Public:
			access = "public"
		}
		fmt.Fprintf(out, "  %-32s %s\n", a.Name, access)
	}
	return nil
}
