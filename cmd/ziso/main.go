package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/zisofs/ziso/pkg/config"
)

func main() {
	app := &cli.App{
		Name:  "ziso",
		Usage: "convert between raw ISO images and block-compressed ZSO/CSO containers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "load conversion defaults from `FILE`",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "only log errors",
			},
		},
		Before: func(c *cli.Context) error {
			logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
			switch {
			case c.Bool("debug"):
				logrus.SetLevel(logrus.DebugLevel)
			case c.Bool("quiet"):
				logrus.SetLevel(logrus.ErrorLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			compressCommand,
			decompressCommand,
			infoCommand,
			verifyCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ziso: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig returns the defaults file named by --config, or the built-in
// defaults when none is given
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}
