package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/TheusHen/meshcrypt/config"
	"github.com/TheusHen/meshcrypt/internal/instrument"
	"github.com/TheusHen/meshcrypt/internal/log"
	"github.com/TheusHen/meshcrypt/meshcrypt/capture"
	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
	"github.com/TheusHen/meshcrypt/meshcrypt/registry"
	"github.com/TheusHen/meshcrypt/meshcrypt/registry/bolt"
	regmem "github.com/TheusHen/meshcrypt/meshcrypt/registry/memory"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport/quic"
)

// env bundles what node and server have in common. Closers run in
// reverse order.
type env struct {
	cfg     *config.Config
	backend *log.Backend
	log     *logging.Logger
	tr      transport.Transport
	link    *quic.Link
	closers []func() error
}

func setup(configFile string) (*env, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", configFile, err)
	}
	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, backend: backend, log: backend.GetLogger("meshcrypt")}
	e.closers = append(e.closers, backend.Close)

	if addr := cfg.Metrics.Address; addr != "" {
		srv := &http.Server{Addr: addr, Handler: instrument.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Errorf("metrics: %v", err)
			}
		}()
		e.closers = append(e.closers, srv.Close)
		e.log.Noticef("metrics on %v", addr)
	}

	e.link = quic.New(quic.Config{
		Listen:     cfg.Link.Listen,
		Address:    transport.Address(cfg.Node.Address),
		Routes:     cfg.Link.RouteMap(),
		Gateway:    cfg.Link.Gateway,
		AssignFrom: transport.Address(cfg.Link.AssignFrom),
		InboxSize:  cfg.Link.InboxSize,
		AckTimeout: time.Duration(cfg.Link.AckTimeout) * time.Millisecond,
		Logger:     backend.GetLogger("link"),
	})
	e.closers = append(e.closers, e.link.Close)
	e.tr = e.link

	if f := cfg.Capture.File; f != "" {
		level, _ := cfg.Capture.Level()
		w, err := openCapture(f, level)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, w.Close)
		e.tr = capture.NewTap(e.link, w.Writer, backend.GetLogger("capture"))
	}
	return e, nil
}

func (e *env) source() (crypto.Source, error) {
	if e.cfg.Node.Seed == "" {
		return crypto.SystemSource(), nil
	}
	seed, err := e.cfg.Node.SeedBytes()
	if err != nil {
		return nil, err
	}
	e.log.Warning("using a seeded key source, keys are predictable")
	return crypto.NewSeededSource(seed), nil
}

func (e *env) registry() (registry.Registry, error) {
	switch e.cfg.Registry.Backend {
	case config.BackendBolt:
		s, err := bolt.Open(e.cfg.Registry.File)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, s.Close)
		return s, nil
	default:
		return regmem.New(), nil
	}
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && e.log != nil {
			e.log.Debugf("close: %v", err)
		}
	}
}

type captureFile struct {
	*capture.Writer
	f *os.File
}

func openCapture(path string, level capture.CompressionLevel) (*captureFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	w, err := capture.NewWriter(f, level)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &captureFile{Writer: w, f: f}, nil
}

func (c *captureFile) Close() error {
	err := c.Writer.Close()
	if e := c.f.Close(); err == nil {
		err = e
	}
	return err
}

func printable(w io.Writer, src transport.Address, msg []byte) {
	fmt.Fprintf(w, "%v: %q\n", src, trimPadding(msg))
}

// trimPadding drops the zero block padding a receiver cannot tell apart from
// the message.
func trimPadding(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}
