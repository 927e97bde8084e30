// Package cli implements the interactive command-line interface for
// Frostbay: live status tables for registered game servers, connected
// clients and seen accounts.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/frostbay-project/frostbay/internal/config"
	"github.com/frostbay-project/frostbay/internal/db"
	"github.com/frostbay-project/frostbay/internal/events"
	"github.com/frostbay-project/frostbay/internal/network"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg       *config.Config
	eventBus  *events.EventBus
	store     *db.Store
	feslConns *network.Registry
	gsConns   *network.Registry
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, store *db.Store, feslConns, gsConns *network.Registry) *CLI {
	return &CLI{
		cfg:       cfg,
		eventBus:  eventBus,
		store:     store,
		feslConns: feslConns,
		gsConns:   gsConns,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nFrostbay CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader()
	defer reader.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("frostbay> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "servers":
		return c.printServers()
	case "clients":
		c.printClients()
	case "accounts":
		return c.printAccounts()
	case "prune":
		return c.cmdPrune()
	case "quit", "exit", "q":
		fmt.Println("Shutting down Frostbay...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════╗")
	fmt.Println("║                Frostbay CLI Commands                 ║")
	fmt.Println("╠══════════════════════════════════════════════════════╣")
	fmt.Println("║  status       Show backend status summary            ║")
	fmt.Println("║  servers      List registered game servers           ║")
	fmt.Println("║  clients      List active connections                ║")
	fmt.Println("║  accounts     List accounts seen at login            ║")
	fmt.Println("║  prune        Remove stale game servers now          ║")
	fmt.Println("║  quit         Shutdown Frostbay                      ║")
	fmt.Println("║  help         Show this help message                 ║")
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus displays a one-line summary per endpoint.
func (c *CLI) printStatus() {
	backend := c.cfg.GetBackend()
	serverCount, _ := c.store.CountGameServers()

	fmt.Printf("\n  Backend:       %s (%s)\n", backend.Name, backend.Region)
	fmt.Printf("  FESL:          %s:%d, %d clients\n", backend.FeslAddress, backend.FeslPort, c.feslConns.Count())
	fmt.Printf("  GameSpy:       %s:%d, %d peers\n", backend.GameSpyAddress, backend.GameSpyPort, c.gsConns.Count())
	fmt.Printf("  Game servers:  %d registered\n\n", serverCount)
}

// printServers displays registered game servers in a table.
func (c *CLI) printServers() error {
	servers, err := c.store.ListGameServers()
	if err != nil {
		return err
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Address", "Game", "Host", "Map", "Players", "Last Seen"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, srv := range servers {
		tw.Append([]string{
			srv.RemoteAddr,
			srv.GameName,
			srv.HostName,
			srv.MapName,
			fmt.Sprintf("%d/%d", srv.NumPlayers, srv.MaxPlayers),
			srv.LastSeen.Format("15:04:05"),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

// printClients displays active connections in a table.
func (c *CLI) printClients() {
	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Address", "Endpoint", "Connected", "Idle"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	now := time.Now()
	for endpoint, registry := range map[string]*network.Registry{
		"fesl":    c.feslConns,
		"gamespy": c.gsConns,
	} {
		for addr, conn := range registry.Snapshot() {
			tw.Append([]string{
				addr,
				endpoint,
				conn.ConnectedAt().Format("15:04:05"),
				now.Sub(conn.LastActivity()).Truncate(time.Second).String(),
			})
		}
	}

	tw.Render()
	fmt.Println()
}

// printAccounts displays accounts seen at login in a table.
func (c *CLI) printAccounts() error {
	accounts, err := c.store.ListAccounts()
	if err != nil {
		return err
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Name", "Game", "Logins", "Last Login"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, acct := range accounts {
		tw.Append([]string{
			acct.Name,
			acct.Game,
			fmt.Sprintf("%d", acct.Logins),
			acct.LastLogin.Format("2006-01-02 15:04:05"),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) cmdPrune() error {
	timeout := time.Duration(c.cfg.GetBackend().HeartbeatTimeoutSec) * time.Second
	pruned, err := c.store.PruneStaleServers(timeout)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d stale servers\n", pruned)
	return nil
}

// lineReader is a simple cross-platform line reader.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader() *lineReader {
	return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}

func (lr *lineReader) Close() error {
	return nil
}
