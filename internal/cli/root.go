// Package cli implements invoicectl, a command-line client for ledgerd.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-invoice-ledger/internal/auth"
	"github.com/0gfoundation/0g-invoice-ledger/internal/client"
)

const keyEnv = "INVOICECTL_KEY"

var version = "dev"

func SetVersion(v string) {
	version = v
}

type app struct {
	server string
	key    string
}

// client builds an API client. Signing commands pass needKey.
func (a *app) client(needKey bool) (*client.Client, error) {
	hexKey := a.key
	if hexKey == "" {
		hexKey = os.Getenv(keyEnv)
	}
	if hexKey == "" {
		if needKey {
			return nil, fmt.Errorf("no wallet key: pass --key or set %s", keyEnv)
		}
		return client.New(a.server, nil), nil
	}
	key, err := auth.ParseKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key: %w", err)
	}
	return client.New(a.server, key), nil
}

// NewRootCmd returns the invoicectl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "invoicectl",
		Short: "Create, pay and inspect invoices on a ledgerd server",
		Long: `invoicectl talks to a ledgerd server. Execute commands (create, pay) are
signed with your wallet key; queries (get, list) need no key.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.server, "server", "http://localhost:8080", "ledgerd base URL")
	root.PersistentFlags().StringVar(&a.key, "key", "", "hex wallet private key (default $"+keyEnv+")")

	root.AddCommand(
		newCreateCmd(a),
		newPayCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newKeygenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "invoicectl %s\n", version)
			},
		},
	)
	return root
}

func Execute() error {
	return NewRootCmd().Execute()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new wallet key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"address":     crypto.PubkeyToAddress(key.PublicKey).Hex(),
				"private_key": fmt.Sprintf("0x%x", crypto.FromECDSA(key)),
			})
		},
	}
}
