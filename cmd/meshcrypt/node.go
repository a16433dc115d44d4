package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheusHen/meshcrypt/meshcrypt"
	"github.com/TheusHen/meshcrypt/meshcrypt/secure"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

type nodeFlags struct {
	configFile string
	to         uint8
	message    string
	wait       time.Duration
}

func newNodeCommand() *cobra.Command {
	var f nodeFlags
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Bootstrap against the key server and send a message",
		Example: `  # Join the mesh and send a reading to the server
  meshcrypt node -f node.toml --message "temperature=21"

  # Send to node 7 and wait up to 5 seconds for an answer
  meshcrypt node -f node.toml --to 7 --message ping --wait 5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.configFile, "config", "f", "meshcrypt.toml", "path to the configuration file (TOML format)")
	cmd.Flags().Uint8Var(&f.to, "to", 0, "destination address, defaults to the key server")
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "message to send once synced")
	cmd.Flags().DurationVar(&f.wait, "wait", 0, "how long to wait for incoming messages")
	return cmd
}

func runNode(ctx context.Context, f nodeFlags) error {
	e, err := setup(f.configFile)
	if err != nil {
		return err
	}
	defer e.Close()
	if e.cfg.Node.IsServer {
		return fmt.Errorf("config file '%v' describes a server", f.configFile)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := e.source()
	if err != nil {
		return err
	}
	node := meshcrypt.NewNode(e.tr, meshcrypt.Options{
		Server: transport.Address(e.cfg.Node.Server),
		Policy: e.cfg.Handshake.Policy(),
		Source: src,
		Logger: e.backend.GetLogger("node"),
	})
	if err := node.Init(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "node %v synced with server %v\n", node.Address(), e.cfg.Node.Server)

	if f.message != "" {
		dest := transport.Address(f.to)
		if dest == transport.Unassigned {
			dest = transport.Address(e.cfg.Node.Server)
		}
		res, err := node.SendTo(ctx, []byte(f.message), dest)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "send to %v: %v\n", dest, res)
	}

	if f.wait <= 0 {
		return nil
	}
	buf := make([]byte, secure.FrameCapacity)
	deadline := time.Now().Add(f.wait)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil
		}
		d, ok, err := node.RecvFromAckTimeout(ctx, buf, left)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ok {
			printable(os.Stdout, d.Source, buf[:d.Len])
		}
	}
}
