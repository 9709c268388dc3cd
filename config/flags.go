package config

import (
	"os"

	"github.com/urfave/cli/v2"
)

// Flags global command-line flags.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to yaml config (defaults to " + GeneratedFile + " when present)",
			EnvVars: []string{envPrefix + "_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level: debug, info, warn, error",
		},
	}
}

// FromContext loads the configuration selected by the global flags.
func FromContext(c *cli.Context) (Config, error) {
	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(GeneratedFile); err == nil {
			path = GeneratedFile
		}
	}

	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, nil
}
