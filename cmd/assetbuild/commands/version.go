package commands

import (
	"fmt"

	"git.home.luguber.info/inful/assetbuild/internal/version"
)

// VersionCmd implements the 'version' command.
type VersionCmd struct{}

// Run prints the version.
func (v *VersionCmd) Run(_ *CLI) error {
	fmt.Printf("assetbuild %s\n", version.String())
	return nil
}
