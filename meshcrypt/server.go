package meshcrypt

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/TheusHen/meshcrypt/meshcrypt/registry"
	"github.com/TheusHen/meshcrypt/meshcrypt/session"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

type ServerOptions struct {
	Logger       *logging.Logger
	Handler      session.Handler
	PollInterval time.Duration
}

// Server is the trusted node that collects personal key material and can
// then talk to every bootstrapped node.
type Server struct {
	tr        transport.Transport
	reg       registry.Registry
	responder *session.Responder
}

func NewServer(tr transport.Transport, reg registry.Registry, opts ServerOptions) *Server {
	return &Server{
		tr:  tr,
		reg: reg,
		responder: session.NewResponder(tr, reg, session.ResponderOptions{
			Logger:       opts.Logger,
			Handler:      opts.Handler,
			PollInterval: opts.PollInterval,
		}),
	}
}

// Init brings the transport up. A server needs a fixed address that nodes
// are configured with, so an unassigned transport is an error.
func (s *Server) Init(ctx context.Context) error {
	if err := s.tr.Init(ctx); err != nil {
		return fmt.Errorf("transport init: %w", err)
	}
	if s.tr.Address() == transport.Unassigned {
		return fmt.Errorf("server: %w", transport.ErrNoAddress)
	}
	return nil
}

func (s *Server) Address() transport.Address { return s.tr.Address() }

func (s *Server) Registry() registry.Registry { return s.reg }

// Serve answers handshakes and delivers data frames until ctx is done.
func (s *Server) Serve(ctx context.Context) error { return s.responder.Serve(ctx) }

// Start serves in the background until Close.
func (s *Server) Start(ctx context.Context) { s.responder.Start(ctx) }

func (s *Server) Close() { s.responder.Close() }

// SendTo encrypts msg under the pair dest registered.
func (s *Server) SendTo(ctx context.Context, msg []byte, dest transport.Address) (transport.ResultCode, error) {
	return s.responder.SendTo(ctx, msg, dest)
}
