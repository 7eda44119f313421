package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/sitedev/cmd/sitedev/commands"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("sitedev"),
		kong.Description("Incremental development server for Markdown sites."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)

	err := parser.Run(&commands.Global{Logger: slog.Default()}, cli)
	if err == nil {
		return
	}
	adapter := ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default())
	fmt.Fprintln(os.Stderr, adapter.FormatError(err))
	os.Exit(adapter.Report(err))
}
