package commands

import (
	"io"

	"git.home.luguber.info/inful/sitedev/internal/version"
)

// VersionCmd implements the 'version' command.
type VersionCmd struct{}

func (VersionCmd) Run() error {
	_, err := io.WriteString(stdout, version.String())
	return err
}
