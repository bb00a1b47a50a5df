package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/framewise/framewise/internal/config"
)

func main() {
	app := &cli.App{
		Name:    "framewise",
		Usage:   "frame-accurate video review agent",
		Version: config.Version,
		Action:  runAgent,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the agent (API, thumbnail runner and tray)",
				Action: runAgent,
			},
			{
				Name:      "render",
				Usage:     "render an annotated frame of a review to PNG",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "review", Aliases: []string{"r"}, Required: true, Usage: "review file"},
					&cli.IntFlag{Name: "frame", Aliases: []string{"f"}, Required: true, Usage: "frame index"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "output PNG path"},
					&cli.IntFlag{Name: "width", Usage: "fit the frame into this width"},
					&cli.BoolFlag{Name: "no-overlay", Usage: "render the bare frame"},
				},
				Action: renderFrame,
			},
			{
				Name:      "checkpoints",
				Usage:     "list the annotated frames of a review",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "review", Aliases: []string{"r"}, Required: true, Usage: "review file"},
				},
				Action: listCheckpoints,
			},
			{
				Name:  "version",
				Usage: "print version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("framewise %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

type configRepo interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

func ensureAuthToken(ctx context.Context, repo configRepo, key string) (string, error) {
	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, key, token); err != nil {
		return "", err
	}

	return token, nil
}
