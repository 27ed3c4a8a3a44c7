package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/glizzus/voice-relay/internal/config"
	"github.com/glizzus/voice-relay/internal/devrelay"
	"github.com/urfave/cli/v2"
)

var stdinReader = bufio.NewReader(os.Stdin)

func prompt(label string) (string, error) {
	fmt.Printf("%s: ", label)
	input, err := stdinReader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// execute runs one stdin command against the server.
func execute(srv *devrelay.Server, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "speak":
		if len(fields) != 3 {
			return fmt.Errorf("usage: speak <user> <file.wav>")
		}
		wav, err := os.ReadFile(fields[2])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", fields[2], err)
		}
		n, err := srv.Speak(fields[1], wav)
		if err != nil {
			return err
		}
		log.Printf("Sent %d bytes of audio to %d bridge(s)", len(wav), n)
	case "shutdown":
		if len(fields) != 2 {
			return fmt.Errorf("usage: shutdown <user>")
		}
		n, err := srv.Shutdown(fields[1])
		if err != nil {
			return err
		}
		log.Printf("Asked %d bridge(s) to shut down", n)
	case "stats":
		counts := srv.FrameCounts()
		users := make([]string, 0, len(counts))
		for user := range counts {
			users = append(users, user)
		}
		sort.Strings(users)
		log.Printf("%d bridge(s) connected", srv.Clients())
		for _, user := range users {
			log.Printf("  %s: %d frames", user, counts[user])
		}
	default:
		return fmt.Errorf("unknown command %q (speak, shutdown, stats)", fields[0])
	}
	return nil
}

func serve(c *cli.Context) error {
	srv := devrelay.New(devrelay.Config{Logger: slog.Default()})
	httpServer := &http.Server{
		Addr:              c.String("addr"),
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.ListenAndServe()
	}()
	log.Printf("Stand-in speech service listening on ws://%s", httpServer.Addr)

	for {
		select {
		case err := <-errs:
			return cli.Exit("Server stopped: "+err.Error(), 1)
		default:
		}

		line, err := prompt("relay")
		if err != nil {
			break
		}
		if err := execute(srv, line); err != nil {
			log.Printf("Error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(c.Context, 2*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func main() {
	if err := config.LoadEnv(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env file: %v", err)
	}

	app := &cli.App{
		Name:        "voice-relay-cli",
		Description: "A development CLI tool for running the voice relay without the speech service",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run a stand-in speech service and send it commands from stdin",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Usage:   "Address to listen on",
						Value:   "localhost:8765",
						EnvVars: []string{"DEVRELAY_ADDR"},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error running CLI: %v", err)
	}
}
