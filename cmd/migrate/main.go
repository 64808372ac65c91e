package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/NikhilSetiya/smart-bug-triage/internal/store"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" {
		printUsage()
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	migrations, err := store.Migrations()
	if err != nil {
		log.Fatalf("Failed to read embedded migrations: %v", err)
	}

	migrator, err := store.NewMigrator(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to %s@%s:%d/%s: %v",
			cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, err)
	}
	defer migrator.Close()

	t := &tool{migrator: migrator, migrations: migrations}

	switch command {
	case "up":
		t.run("Applied:", migrator.Up)
	case "down":
		t.run("Rolled back:", migrator.Down)
	case "steps":
		n := intArg(os.Args[2:], "steps")
		t.run("Migrated:", func() error { return migrator.Steps(n) })
	case "status":
		t.status()
	case "force":
		t.force(intArg(os.Args[2:], "force"))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Bug Triage Database Migration Tool")
	fmt.Println()
	fmt.Println("Manages the developer directory and assignment feedback tables the")
	fmt.Println("triage agent reads candidates and ratings from. Connection settings")
	fmt.Println("come from DB_* environment variables or .env.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up           Apply every pending migration")
	fmt.Println("  down         Roll back every applied migration (drops developers and feedback)")
	fmt.Println("  steps <n>    Apply n migrations (positive) or roll back n (negative)")
	fmt.Println("  status       List embedded migrations and whether each is applied")
	fmt.Println("  force <v>    Record version v without running anything, to clear a dirty state")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  migrate up")
	fmt.Println("  migrate steps -1")
	fmt.Println("  migrate status")
	fmt.Println("  migrate force 1")
}

type tool struct {
	migrator   *store.Migrator
	migrations []store.Migration
}

func (t *tool) version() (uint, bool) {
	version, dirty, err := t.migrator.Version()
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	return version, dirty
}

// run executes op and reports the migrations it moved through
func (t *tool) run(verb string, op func() error) {
	before, dirty := t.version()
	if dirty {
		log.Fatalf("Schema is dirty at version %d; inspect it and run 'migrate force <v>' first", before)
	}

	if err := op(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	after, _ := t.version()
	changed := store.MigrationsBetween(t.migrations, before, after)
	if len(changed) == 0 {
		fmt.Printf("Schema already at version %d, nothing to do\n", after)
		return
	}

	fmt.Println(verb)
	for _, m := range changed {
		fmt.Printf("  %06d  %s\n", m.Version, m.Name)
	}
	fmt.Printf("Schema version %d -> %d\n", before, after)
}

func (t *tool) status() {
	current, dirty := t.version()

	pending := 0
	for _, m := range t.migrations {
		state := "applied"
		if m.Version > current {
			state = "pending"
			pending++
		}
		fmt.Printf("  %06d  %-32s %s\n", m.Version, m.Name, state)
	}

	fmt.Printf("Schema version %d, %d pending\n", current, pending)
	if dirty {
		fmt.Println("WARNING: schema is dirty; the last migration did not finish")
	}
}

func (t *tool) force(version int) {
	known := false
	for _, m := range t.migrations {
		if int(m.Version) == version {
			known = true
		}
	}
	if !known {
		log.Fatalf("Version %d is not an embedded migration", version)
	}

	if err := t.migrator.Force(version); err != nil {
		log.Fatalf("Failed to force schema version: %v", err)
	}
	fmt.Printf("Schema version recorded as %d\n", version)
}

func intArg(args []string, command string) int {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "%s requires a number argument\n", command)
		os.Exit(1)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid %s argument: %s\n", command, args[0])
		os.Exit(1)
	}
	return n
}
