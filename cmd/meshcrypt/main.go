package main

import (
	"context"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meshcrypt",
		Short: "Encrypted datagrams for packet radio meshes",
		Long: `meshcrypt runs nodes and key servers of an encrypted packet radio mesh.

A node generates a personal AES-128 IV and key, hands both to the key server
under the network-wide default key and from then on encrypts everything it
sends with its personal pair. Hosts are linked over QUIC; the sim command runs
a whole mesh in memory instead.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newNodeCommand(),
		newServerCommand(),
		newSimCommand(),
		newCaptureCommand(),
	)
	return cmd
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCommand(),
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}
