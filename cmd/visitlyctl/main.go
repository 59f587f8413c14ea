// main.go - Admin control tool for visitly
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"visitly/internal"
	"visitly/internal/analytics"
	"visitly/internal/seeder"
	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	Name() string
	Description() string
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

var commands = []Command{
	&MigrateCommand{},
	&SeedCommand{},
	&StatsCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs(os.Args[1:])
	cmd := findCommand(cmdName)
	if cmd == nil {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if _, ok := cmd.(*HelpCommand); ok {
		printUsage(os.Stdout)
		return
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	exitCode := 0
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: Cleanup error: %v", err)
		}
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Printf("Command failed: %v", err)
		exitCode = 1
		return
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Creates or updates the visit store schema" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")
	if err := app.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand populates the store with demo traffic
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the store with sample visits (-visits N -days D)" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("visits", 1000, "number of page views to generate")
	days := fs.Int("days", 30, "number of days to spread visits over")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count <= 0 || *days <= 0 {
		return fmt.Errorf("-visits and -days must be positive")
	}

	if err := app.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	res, err := seeder.NewSeeder(app.Services.Store, slog.Default()).Seed(ctx, seeder.Options{
		Visits: *count,
		Days:   *days,
		Seed:   uint64(time.Now().UnixNano()),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d visits in %d sessions (%d conversions)\n", res.Visits, res.Sessions, res.Conversions)
	return nil
}

// StatsCommand prints the daily trend for the last N days
type StatsCommand struct{}

func (c *StatsCommand) Name() string        { return "stats" }
func (c *StatsCommand) Description() string { return "Prints daily totals for the last N days (-days N)" }

func (c *StatsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	days := fs.Int("days", 7, "number of days to report")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days <= 0 || *days > 365 {
		return fmt.Errorf("-days must be between 1 and 365")
	}

	engine := app.Services.Engine
	r := timeframe.LastDays(engine.Now(), *days)
	points, err := engine.TrendStats(ctx, r.From, r.To)
	if err != nil {
		return err
	}

	renderStats(os.Stdout, points, term.IsTerminal(int(os.Stdout.Fd())))
	return nil
}

var statsColumns = []string{"date", "total visitors", "unique visitors", "page views", "avg duration", "new", "returning"}

// renderStats writes an aligned table for terminals and TSV otherwise.
func renderStats(w io.Writer, points []analytics.TrendPoint, tty bool) {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			p.Date,
			fmt.Sprint(p.TotalVisitors),
			fmt.Sprint(p.UniqueVisitors),
			fmt.Sprint(p.TotalPageViews),
			fmt.Sprintf("%.2fs", p.AvgVisitDuration),
			fmt.Sprint(p.NewVisitors),
			fmt.Sprint(p.ReturningVisitors),
		})
	}

	if !tty {
		fmt.Fprintln(w, strings.Join(statsColumns, "\t"))
		for _, row := range rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		return
	}

	title := cases.Title(language.AmericanEnglish)
	headers := make([]string, len(statsColumns))
	for i, c := range statsColumns {
		headers[i] = title.String(c)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, strings.Join(headers, "\t")+"\t")
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}
	tw.Flush()
}

// StatusCommand reports store connectivity and configuration
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	s := app.Services
	cfg := s.Config

	log.Println("System Status:")
	log.Printf("- Environment: %s", cfg.Environment)
	log.Printf("- Store backend: %s", cfg.StoreBackend)

	if err := s.Store.Ping(ctx); err != nil {
		log.Printf("- Store: unreachable (%v)", err)
		return fmt.Errorf("store ping failed: %w", err)
	}
	log.Println("- Store: connected")

	page, err := s.Store.ListVisitors(ctx, visits.VisitorFilter{Limit: 1})
	if err != nil {
		return fmt.Errorf("failed to count visits: %w", err)
	}
	log.Printf("- Visits stored: %d", page.Total)

	log.Printf("- Geo provider: %s", cfg.GeoProvider)
	if s.GeoDB != nil {
		log.Printf("- GeoLite database: %s (loaded: %t)", s.GeoDB.Path(), s.GeoDB.Available())
	}
	log.Printf("- Write queue: %d workers, %d slots", cfg.WriteQueueWorkers, cfg.WriteQueueSize)

	if sqlDB, err := app.DBManager.GetConnection().DB(); err == nil {
		stats := sqlDB.Stats()
		log.Printf("- Max Open Connections: %d", stats.MaxOpenConnections)
		log.Printf("- Open Connections: %d", stats.OpenConnections)
		log.Printf("- In Use: %d", stats.InUse)
		log.Printf("- Idle: %d", stats.Idle)
	}
	return nil
}

// HelpCommand shows usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage(os.Stdout)
	return nil
}

func parseArgs(args []string) (string, []string) {
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: visitlyctl [command] [args...]")
	fmt.Fprintln(w, "Available commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %s: %s\n", cmd.Name(), cmd.Description())
	}
}
