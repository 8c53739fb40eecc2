// Command saffron runs the Claude-web reverse proxy: an
// Anthropic-compatible Messages API backed by a pool of Claude.ai
// accounts.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var version = "dev"

type cli struct {
	Config string `short:"c" default:"config.yaml" help:"Path to the configuration file."`

	Serve    serveCmd    `cmd:"" default:"1" help:"Run the proxy server."`
	Validate validateCmd `cmd:"" help:"Validate the configuration and exit."`
	Version  versionCmd  `cmd:"" help:"Print the version and exit."`
}

type versionCmd struct{}

func (versionCmd) Run() error {
	fmt.Println("saffron " + version)
	return nil
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("saffron"),
		kong.Description("Anthropic-compatible reverse proxy for Claude.ai accounts."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&c); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
