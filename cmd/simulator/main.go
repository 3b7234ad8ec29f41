package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/news-unpacked/internal/client"
	"github.com/dom/news-unpacked/internal/config"
	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/logger"
	"github.com/dom/news-unpacked/internal/repository/remote"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// The bots read the same environment as the server they talk to.
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	apiURL := "http://localhost:" + cfg.Port
	if envURL := os.Getenv("API_URL"); envURL != "" {
		apiURL = envURL
	}
	sim := simulation{
		apiURL: apiURL,
		log:    logger.New("development", cfg.LogLevel),
		opts:   client.Options{TransactionAttempts: cfg.TransactionAttempts},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "full":
		sim.full(ctx, args)
	case "populate":
		sim.populate(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Table Simulator - Development tool for testing a game table

USAGE:
  simulator <command> [options]

COMMANDS:
  full      Create a room with bot players and play it through to the summary
  populate  Add bot players to an existing room; they submit topics when asked
  help      Show this help message

ENVIRONMENT:
  API_URL              Document store URL (default: http://localhost:$PORT)
  LOG_LEVEL            Log level for the bots (default: info)
  TRANSACTION_ATTEMPTS Retries of each join and leave (default: 5)

EXAMPLES:
  # Play a 4-player game end to end
  simulator full --players=4

  # Stop in preparation so you can join from a browser and submit too
  simulator full --players=3 --stop=preparation

  # Add 3 bots to an existing room
  simulator populate --room=ABC123 --count=3`)
}

type simulation struct {
	apiURL string
	log    zerolog.Logger
	opts   client.Options
}

func (sim simulation) newTable() *table {
	store := remote.NewStore(sim.apiURL, remote.WithLogger(sim.log))
	return newTable(store, sim.log, sim.opts)
}

func (sim simulation) full(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("full", flag.ExitOnError)
	players := fs.Int("players", 4, "Number of bot players including the host")
	topics := fs.Int("topics", 1, "Topics each bot submits")
	stopAt := fs.String("stop", string(domain.RoomStatusSummary), "Phase to stop in: lobby, preparation, selection or summary")
	fs.Parse(args)

	if *players < 1 || *topics < 1 {
		fmt.Println("Error: --players and --topics must be at least 1")
		os.Exit(1)
	}

	table := sim.newTable()
	defer table.Close()

	fmt.Println("=== Table Simulator: Full Game ===")
	fmt.Println()

	fmt.Print("Creating room... ")
	code, err := table.Host(ctx, "Host")
	if err != nil {
		fmt.Printf("FAILED\n  Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK (code: %s)\n", code)

	fmt.Printf("Adding %d players:\n", *players-1)
	for i := 1; i < *players; i++ {
		name := fmt.Sprintf("Bot%d", i)
		if err := table.Join(ctx, code, name); err != nil {
			fmt.Printf("  [%d/%d] FAILED to join: %v\n", i+1, *players, err)
			os.Exit(1)
		}
		fmt.Printf("  [%d/%d] %s joined\n", i+1, *players, name)
	}
	if err := table.WaitPlayers(*players, 10*time.Second); err != nil {
		fmt.Printf("Players never showed up: %v\n", err)
		os.Exit(1)
	}

	if err := table.Play(ctx, *topics, domain.RoomStatus(*stopAt)); err != nil {
		fmt.Printf("Game stopped: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("=========================================")
	fmt.Printf("  ROOM %s IS IN %s\n", code, table.Phase())
	fmt.Println("=========================================")
	fmt.Println()
	fmt.Printf("  Join URL: %s/api/v1/rooms/%s/qr.png\n", sim.apiURL, code)
	fmt.Println()
}

func (sim simulation) populate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("populate", flag.ExitOnError)
	roomCode := fs.String("room", "", "Room code (required)")
	count := fs.Int("count", 3, "Number of bots to add")
	topics := fs.Int("topics", 1, "Topics each bot submits")
	fs.Parse(args)

	if *roomCode == "" {
		fmt.Println("Error: --room is required")
		fmt.Println("\nUsage: simulator populate --room=ABC123 [--count=3]")
		os.Exit(1)
	}

	table := sim.newTable()
	defer table.Close()

	fmt.Printf("Adding %d bots to room %s...\n\n", *count, *roomCode)
	for i := 0; i < *count; i++ {
		name := fmt.Sprintf("Bot%d", i+1)
		if err := table.Join(ctx, *roomCode, name); err != nil {
			fmt.Printf("  [%d/%d] FAILED to join: %v\n", i+1, *count, err)
			continue
		}
		fmt.Printf("  [%d/%d] %s joined\n", i+1, *count, name)
	}

	fmt.Println()
	fmt.Println("Bots submit their topics once the host starts the game. Ctrl+C to leave.")
	table.Follow(ctx, *topics)
	fmt.Println("Bots left the room.")
}
