package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// ResetCommand creates the reset command
func ResetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Delete and recreate the search index",
		Action: func(ctx context.Context, c *cli.Command) error {
			return resetIndex(ctx, c.String("config"))
		},
	}
}

func resetIndex(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	service, err := newService(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := service.Close(); err != nil {
			fmt.Printf("Warning: failed to close backend: %v\n", err)
		}
	}()

	if err := service.ResetIndex(ctx); err != nil {
		return fmt.Errorf("resetting index: %w", err)
	}
	fmt.Println("Index reset")
	return nil
}
