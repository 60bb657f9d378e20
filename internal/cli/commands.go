// Package cli implements the interactive command-line interface for
// rconsole: connecting server profiles, executing commands, and inspecting
// session state and history.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/rconsole-project/rconsole/internal/config"
	"github.com/rconsole-project/rconsole/internal/db"
	"github.com/rconsole-project/rconsole/internal/events"
	"github.com/rconsole-project/rconsole/internal/session"
	"github.com/rconsole-project/rconsole/internal/util"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.Bus
	manager  *session.Manager
	history  *db.HistoryStore
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.Bus, manager *session.Manager, history *db.HistoryStore) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		history:  history,
	}
}

// Start begins the interactive CLI loop. It returns when the user quits or
// standard input ends. The context is checked before each prompt; a read
// already waiting on standard input is not interrupted by cancellation.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nrconsole CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader()
	defer reader.Close()

	// Surface BattlEye pushes as they arrive.
	c.eventBus.Subscribe(events.EventServerMessage, "cli", func(ctx context.Context, ev events.Event) error {
		if p, ok := ev.Payload.(events.ServerMessagePayload); ok {
			fmt.Printf("\n[%s] %s\n", p.Profile, p.Text)
		}
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("rconsole> ")
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

		if c.execute(ctx, cmd, args) {
			return
		}
	}
}

// execute processes a single CLI command and reports whether the loop
// should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) bool {
	var err error

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "profiles", "p":
		c.printProfiles()
	case "status", "s":
		c.printStatus()
	case "connect", "c":
		err = c.cmdConnect(ctx, args)
	case "exec", "e", "run":
		err = c.cmdExec(ctx, args)
	case "disconnect", "d":
		err = c.cmdDisconnect(args)
	case "history":
		err = c.cmdHistory(args)
	case "sysinfo":
		c.printSysInfo()
	case "quit", "exit", "q":
		fmt.Println("Shutting down rconsole...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
	return false
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     rconsole CLI Commands                    ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  profiles               List configured server profiles     ║")
	fmt.Println("║  connect <profile>      Open an RCON session                ║")
	fmt.Println("║  exec <profile> <cmd>   Execute a command on a session      ║")
	fmt.Println("║  disconnect <profile>   Close an RCON session               ║")
	fmt.Println("║  status                 Show open sessions                  ║")
	fmt.Println("║  history [n]            Show recent commands                ║")
	fmt.Println("║  sysinfo                Show host system information        ║")
	fmt.Println("║  quit                   Shutdown rconsole                   ║")
	fmt.Println("║  help                   Show this help message              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printProfiles displays the configured profiles in a table.
func (c *CLI) printProfiles() {
	profiles := c.cfg.GetProfiles()
	if len(profiles) == 0 {
		fmt.Println("No profiles configured. Edit config/config.json to add some.")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Name", "Protocol", "Host", "Port", "Timeout", "Debug"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range profiles {
		timeout := "default"
		if p.TimeoutMS > 0 {
			timeout = fmt.Sprintf("%dms", p.TimeoutMS)
		}
		tw.Append([]string{
			p.Name,
			string(p.ProtocolKind()),
			p.Host,
			fmt.Sprintf("%d", p.Port),
			timeout,
			fmt.Sprintf("%v", p.Debug),
		})
	}

	tw.Render()
	fmt.Println()
}

// printStatus displays open sessions in a table.
func (c *CLI) printStatus() {
	sessions := c.manager.List()
	if len(sessions) == 0 {
		fmt.Println("No open sessions.")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Profile", "Protocol", "Address", "State", "Open For"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range sessions {
		tw.Append([]string{
			s.Profile,
			string(s.Protocol),
			s.Addr,
			s.State.String(),
			time.Since(s.OpenedAt).Round(time.Second).String(),
		})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) cmdConnect(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: connect <profile>")
	}

	name := args[0]
	fmt.Printf("Connecting to %s...\n", name)
	if err := c.manager.Open(ctx, name); err != nil {
		return err
	}
	fmt.Printf("Connected and authenticated: %s\n", name)
	return nil
}

func (c *CLI) cmdExec(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: exec <profile> <command...>")
	}

	name := args[0]
	command := strings.Join(args[1:], " ")

	response, err := c.manager.Execute(ctx, name, command)
	if err != nil {
		return err
	}
	if response == "" {
		fmt.Println("(empty response)")
	} else {
		fmt.Println(response)
	}
	return nil
}

func (c *CLI) cmdDisconnect(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: disconnect <profile>")
	}
	if err := c.manager.Close(args[0]); err != nil {
		return err
	}
	fmt.Printf("Disconnected: %s\n", args[0])
	return nil
}

func (c *CLI) cmdHistory(args []string) error {
	if c.history == nil {
		return fmt.Errorf("history store is disabled")
	}

	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	entries, err := c.history.Recent(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No command history.")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"When", "Profile", "Command", "Outcome", "Duration"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, e := range entries {
		outcome := "ok"
		if e.Error != "" {
			outcome = e.Error
		}
		tw.Append([]string{
			e.ExecutedAt.Format("15:04:05"),
			e.Profile,
			truncate(e.Command, 40),
			truncate(outcome, 40),
			e.Duration.String(),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

// printSysInfo displays host system information.
func (c *CLI) printSysInfo() {
	info := util.GetSystemInfo()
	fmt.Printf("\n  Hostname:     %s\n", info.Hostname)
	fmt.Printf("  OS:           %s\n", info.OS)
	fmt.Printf("  Architecture: %s\n", info.Architecture)
	fmt.Printf("  CPU:          %s\n", info.CPUModel)
	fmt.Printf("  Cores:        %d\n", info.CPUCores)
	fmt.Printf("  Memory:       %d MB\n", info.TotalMemory)
	fmt.Println()
}

// truncate shortens s for table display.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
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
