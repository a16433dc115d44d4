package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheusHen/meshcrypt/meshcrypt/capture"
	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
)

type captureFlags struct {
	key     string
	iv      string
	defKeys bool
}

func newCaptureCommand() *cobra.Command {
	var f captureFlags
	cmd := &cobra.Command{
		Use:   "capture FILE",
		Short: "Print the frames recorded in a capture file",
		Long: `capture prints every frame of an LZ4 capture written by a node or server
with a Capture block in its configuration. Frames are shown as ciphertext
unless key material is given.`,
		Example: `  # Ciphertext only
  meshcrypt capture node.cap

  # Decrypt handshake traffic
  meshcrypt capture node.cap --default-keys

  # Decrypt a node's traffic with its personal pair
  meshcrypt capture node.cap --key 0101...01 --iv 0000...00`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd.OutOrStdout(), args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.key, "key", "", "hex encoded key to decrypt frames with")
	cmd.Flags().StringVar(&f.iv, "iv", "", "hex encoded IV to decrypt frames with")
	cmd.Flags().BoolVar(&f.defKeys, "default-keys", false, "decrypt with the network-wide default pair")
	return cmd
}

func (f captureFlags) keyMaterial() (*crypto.KeyMaterial, error) {
	if f.defKeys {
		if f.key != "" || f.iv != "" {
			return nil, errors.New("invalid argument: --default-keys excludes --key and --iv")
		}
		km := crypto.DefaultKeyMaterial()
		return &km, nil
	}
	if f.key == "" && f.iv == "" {
		return nil, nil
	}
	key, err := crypto.ParseKeyHex(f.key)
	if err != nil {
		return nil, fmt.Errorf("invalid argument: --key: %v", err)
	}
	iv, err := crypto.ParseIVHex(f.iv)
	if err != nil {
		return nil, fmt.Errorf("invalid argument: --iv: %v", err)
	}
	return &crypto.KeyMaterial{Key: key, IV: iv}, nil
}

func runCapture(w io.Writer, path string, f captureFlags) error {
	km, err := f.keyMaterial()
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	r := capture.NewReader(file)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%s %-3v %v -> %v %3d bytes", rec.Time.Format("15:04:05.000"), rec.Direction, rec.Src, rec.Dst, len(rec.Frame))
		if rec.Direction == capture.Outbound {
			fmt.Fprintf(w, " %v", rec.Result)
		}
		fmt.Fprintf(w, "\n  %s\n", hex.EncodeToString(rec.Frame))
		if km != nil {
			plain, err := rec.Open(*km)
			if err != nil {
				fmt.Fprintf(w, "  decrypt: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "  %q\n", trimPadding(plain))
		}
	}
}
