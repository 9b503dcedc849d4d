// Package cli exposes the carelink command tree for embedding in other binaries.
package cli

import (
	"github.com/spf13/cobra"

	internalcli "github.com/SmitUplenchwar2687/Carelink/internal/cli"
)

// NewRootCmd creates the carelink root command.
func NewRootCmd() *cobra.Command {
	return internalcli.NewRootCmd()
}
