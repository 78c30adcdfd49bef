package adapter

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
)

// CLIAdapter is the interactive terminal front end. Input events all map to
// the "cli:local" session.
type CLIAdapter struct {
	eventHandler EventHandler
	running      bool
}

func NewCLIAdapter(eventHandler EventHandler) *CLIAdapter {
	return &CLIAdapter{eventHandler: eventHandler}
}

func (a *CLIAdapter) Name() string {
	return "cli"
}

func (a *CLIAdapter) Start(ctx context.Context) error {
	a.running = true
	fmt.Println("Kotori ready. Type your message, or /exit to quit.")
	fmt.Print("> ")

	go a.readLoop(ctx)

	go func() {
		<-ctx.Done()
		a.running = false
		fmt.Println("\nCLI adapter stopped.")
	}()

	return nil
}

func (a *CLIAdapter) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if line == "/exit" {
			return
		}

		if a.eventHandler != nil {
			if err := a.eventHandler(ctx, "cli", "user_message", ulid.Make().String(), line, nil); err != nil {
				slog.Error("Failed to handle CLI input", "error", err)
			}
		}
	}
}

func (a *CLIAdapter) Send(ctx context.Context, target string, content string) error {
	color := "\033[32m" // green for normal replies
	reset := "\033[0m"

	if strings.HasPrefix(content, "Sorry,") {
		color = "\033[31m" // red
	} else if strings.Contains(content, "(yes/no)") {
		color = "\033[33m" // yellow for confirmation gates
	}

	fmt.Printf("\r\033[K")
	fmt.Printf("%s%s%s\n", color, content, reset)
	fmt.Print("> ")

	return nil
}

func (a *CLIAdapter) Stop(ctx context.Context) error {
	a.running = false
	return nil
}

func (a *CLIAdapter) Health(ctx context.Context) error {
	return nil
}
