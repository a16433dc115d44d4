package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/meshcrypt/internal/log"
	"github.com/TheusHen/meshcrypt/meshcrypt"
	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
	regmem "github.com/TheusHen/meshcrypt/meshcrypt/registry/memory"
	"github.com/TheusHen/meshcrypt/meshcrypt/session"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport/memory"
)

type simFlags struct {
	nodes   int
	seed    uint8
	level   string
	timeout time.Duration
}

func newSimCommand() *cobra.Command {
	var f simFlags
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Bootstrap a simulated in-memory mesh",
		Long: `sim starts a key server at address 1 and a number of nodes on an in-memory
mesh. Every node bootstraps concurrently and then greets the server.`,
		Example: `  meshcrypt sim --nodes 8 --log-level DEBUG`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSim(cmd.Context(), f)
		},
	}
	cmd.Flags().IntVarP(&f.nodes, "nodes", "n", 4, "number of nodes")
	cmd.Flags().Uint8Var(&f.seed, "seed", 0, "seed for deterministic node keys, 0 uses the system CSPRNG")
	cmd.Flags().StringVar(&f.level, "log-level", "NOTICE", "log level")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}

func runSim(ctx context.Context, f simFlags) error {
	if f.nodes < 1 || f.nodes > 250 {
		return fmt.Errorf("invalid argument: --nodes must be within [1, 250]")
	}
	backend, err := log.New("", f.level, false)
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	nw := memory.NewNetwork(memory.WithInboxSize(4 * f.nodes))
	var mu sync.Mutex
	received := map[transport.Address]string{}
	srv := meshcrypt.NewServer(nw.Endpoint(meshcrypt.DefaultServerAddress), regmem.New(), meshcrypt.ServerOptions{
		Logger: backend.GetLogger("server"),
		Handler: func(src transport.Address, msg []byte) {
			mu.Lock()
			received[src] = string(trimPadding(msg))
			mu.Unlock()
		},
	})
	if err := srv.Init(ctx); err != nil {
		return err
	}
	srv.Start(ctx)
	defer srv.Close()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < f.nodes; i++ {
		var src crypto.Source
		if f.seed != 0 {
			src = crypto.NewSeededSource([32]byte{f.seed, byte(i)})
		}
		node := meshcrypt.NewNode(nw.Endpoint(transport.Unassigned), meshcrypt.Options{
			Policy: session.DefaultPolicy(),
			Source: src,
			Logger: backend.GetLogger(fmt.Sprintf("node%d", i)),
		})
		g.Go(func() error {
			if err := node.Init(gctx); err != nil {
				return err
			}
			msg := fmt.Sprintf("hello from %v", node.Address())
			res, err := node.SendTo(gctx, []byte(msg), meshcrypt.DefaultServerAddress)
			if err != nil {
				return err
			}
			if res != transport.ResultSuccess {
				return fmt.Errorf("node %v: send: %v", node.Address(), res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Let the server drain its inbox.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == f.nodes {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	recs, err := srv.Registry().List()
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	for _, rec := range recs {
		fmt.Fprintf(os.Stdout, "node %v iv %v key %v: %q\n", rec.Address, rec.IV, rec.Key, received[rec.Address])
	}
	if len(received) != f.nodes {
		return fmt.Errorf("server heard from %d of %d nodes", len(received), f.nodes)
	}
	return nil
}
