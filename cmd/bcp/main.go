// Command bcp bulk loads delimited text files into a table.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/dan-strohschein/bcp-driver/client"
	"github.com/dan-strohschein/bcp-driver/transport"
	_ "github.com/dan-strohschein/bcp-driver/transport/pgcopy"
	_ "github.com/dan-strohschein/bcp-driver/transport/sqlserver"
)

func main() {
	// Flag EnvVars are read while parsing, so .env must be loaded first.
	envFile := os.Getenv("BCP_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		printWarning(fmt.Sprintf("could not read %s: %v", envFile, err))
	}

	if err := newApp().Run(os.Args); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "bcp",
		Usage:   "bulk copy delimited files into database tables",
		Version: client.Version,
		Writer:  stdout,
		Commands: []*cli.Command{
			loadCommand(),
			{
				Name:  "drivers",
				Usage: "list the available transport drivers",
				Action: func(cctx *cli.Context) error {
					for _, name := range transport.Drivers() {
						fmt.Fprintln(stdout, name)
					}
					return nil
				},
			},
		},
	}
}
