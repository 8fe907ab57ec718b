package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/web3tea/graphmirror/config"
	"github.com/web3tea/graphmirror/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:  "graphmirror",
		Usage: "Keep a graph read model in sync with a relational system of record",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the config file (.toml or .json)",
				Value:   "graphmirror.toml",
			},
		},
		Commands: []*cli.Command{
			runCmd,
			installCmd,
			statusCmd,
			requeueCmd,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadFromFile(c.String("config"))
	if err != nil {
		return nil, err
	}
	log.SetLevelFromString(cfg.LogLevel)
	return cfg, nil
}
