package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheusHen/meshcrypt/meshcrypt"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

func newServerCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the key server",
		Long: `The key server answers SYNC_IV and SYNC_KEY handshakes, records every
node's personal IV and key and prints the messages nodes send it.

SIGHUP reopens the log file.`,
		Example: `  meshcrypt server -f server.toml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "meshcrypt.toml", "path to the configuration file (TOML format)")
	return cmd
}

func runServer(ctx context.Context, configFile string) error {
	e, err := setup(configFile)
	if err != nil {
		return err
	}
	defer e.Close()
	if !e.cfg.Node.IsServer {
		return fmt.Errorf("config file '%v' does not describe a server", configFile)
	}

	reg, err := e.registry()
	if err != nil {
		return err
	}
	srv := meshcrypt.NewServer(e.tr, reg, meshcrypt.ServerOptions{
		Logger: e.backend.GetLogger("server"),
		Handler: func(src transport.Address, msg []byte) {
			printable(os.Stdout, src, msg)
		},
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	defer signal.Stop(rotateCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-rotateCh:
				if err := e.backend.Rotate(); err != nil {
					fmt.Fprintf(os.Stderr, "log rotate: %v\n", err)
				}
			}
		}
	}()

	if err := srv.Init(ctx); err != nil {
		return err
	}
	e.log.Noticef("key server %v listening on %v", srv.Address(), e.link.ListenAddr())
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
