// main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/lndhub"
	"github.com/feelancer21/lnunify/transport"
	"github.com/urfave/cli/v2"
)

var (
	// version is set via ldflags at build time
	version = "dev"

	timeoutAccount = 60 * time.Second
)

func withApp(fn func(app *App) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		app, err := NewApp(c)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := app.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "error closing app: %v\n", closeErr)
			}
		}()

		return fn(app)
	}
}

func generateKey(c *cli.Context) error {
	var (
		filename string
		err      error
	)

	if c.IsSet("keyfile") {
		filename = c.String("keyfile")
	} else if filename, err = defaultKeyPath(); err != nil {
		return err
	}

	key, err := generateIdentity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	err = saveKey(filename, key)
	if err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}

	fmt.Printf("Generated new identity key and saved to %s\n", filename)
	return nil
}

func listOperations(_ *cli.Context) error {
	return printSliceJSON(lnunify.Operations())
}

// createAccount registers a new LndHub account. It needs no config file.
func createAccount(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, timeoutAccount)
	defer cancel()

	cfg := lndhub.Config{
		URL:       c.String("url"),
		TLSVerify: true,
		Timeout:   timeoutAccount,
	}
	if c.IsSet("tor") {
		cfg.Tor = transport.NewTorDialer(c.String("tor"), nil)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	created, err := lndhub.CreateAccount(ctx, cfg, lndhub.WithLogger(log))
	if err != nil {
		return err
	}

	return printJSON(struct {
		URL    string `json:"url"`
		Login  string `json:"login"`
		Secret string `json:"secret"`
	}{
		URL:    created.URL,
		Login:  created.Login,
		Secret: created.Secret(),
	})
}

func run() int {
	// main ctx that cancels on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limitFlag := &cli.IntFlag{Name: "limit", Usage: "maximum number of entries, newest first.", Value: lnunify.DefaultListLimit}
	amtFlag := &cli.Int64Flag{Name: "amt", Usage: "amount in satoshis."}
	feeLimitFlag := &cli.Int64Flag{Name: "fee-limit", Usage: "maximum routing fee in satoshis."}

	app := &cli.App{
		Name:    "lnunify-cli",
		Version: version,
		Usage: "One command line for lnd, Core Lightning, Eclair, LndHub " +
			"and Nostr Wallet Connect wallets.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "name of the config file (default ~/.config/lnunify/config.yaml)"},
			&cli.StringFlag{Name: "backend", Usage: "overrides the backend of the config file."},
		},
		Commands: []*cli.Command{
			{
				Name:   "getinfo",
				Usage:  "Returns basic information about the connected node.",
				Action: withApp((*App).GetInfo),
			},
			{
				Name:   "balance",
				Usage:  "Returns the on-chain and channel balances.",
				Action: withApp((*App).GetBalance),
			},
			{
				Name:   "channels",
				Usage:  "Lists the channels of the node.",
				Action: withApp((*App).ListChannels),
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "closed", Usage: "list closed channels instead."},
				},
			},
			{
				Name:    "transactions",
				Aliases: []string{"txs"},
				Usage:   "Lists the on-chain transactions.",
				Action:  withApp((*App).ListTransactions),
			},
			{
				Name:   "invoices",
				Usage:  "Lists the invoices, newest first.",
				Action: withApp((*App).ListInvoices),
				Flags:  []cli.Flag{limitFlag},
			},
			{
				Name:   "payments",
				Usage:  "Lists the outgoing payments, newest first.",
				Action: withApp((*App).ListPayments),
				Flags:  []cli.Flag{limitFlag},
			},
			{
				Name:   "addinvoice",
				Usage:  "Creates a BOLT11 invoice.",
				Action: withApp((*App).AddInvoice),
				Flags: []cli.Flag{
					amtFlag,
					&cli.StringFlag{Name: "memo", Usage: "description of the invoice."},
					&cli.DurationFlag{Name: "expiry", Usage: "time until the invoice expires.", Value: time.Hour},
				},
			},
			{
				Name:      "pay",
				Usage:     "Pays a BOLT11 invoice.",
				ArgsUsage: "<payment request>",
				Action:    withApp((*App).PayInvoice),
				Flags:     []cli.Flag{amtFlag, feeLimitFlag},
			},
			{
				Name:   "keysend",
				Usage:  "Sends a spontaneous payment to a node.",
				Action: withApp((*App).SendKeysend),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dest", Usage: "public key of the receiving node.", Required: true},
					amtFlag,
					feeLimitFlag,
					&cli.StringFlag{Name: "message", Usage: "message attached to the payment."},
				},
			},
			{
				Name:      "decode",
				Usage:     "Decodes a BOLT11 payment request.",
				ArgsUsage: "<payment request>",
				Action:    withApp((*App).DecodePayReq),
			},
			{
				Name:   "newaddress",
				Usage:  "Generates an on-chain address.",
				Action: withApp((*App).NewAddress),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "p2wkh, np2wkh or p2tr."},
				},
			},
			{
				Name:    "capabilities",
				Aliases: []string{"caps"},
				Usage:   "Shows which features the active backend supports.",
				Action:  withApp((*App).Capabilities),
			},
			{
				Name:   "operations",
				Usage:  "Lists the operations usable with call.",
				Action: listOperations,
			},
			{
				Name:      "call",
				Usage:     "Invokes an operation by name with JSON arguments.",
				ArgsUsage: "<operation> [json arguments]",
				Action:    withApp((*App).Call),
			},
			{
				Name:    "subscribeinvoices",
				Aliases: []string{"subinv"},
				Usage:   "Prints invoice updates until interrupted.",
				Action:  withApp((*App).SubscribeInvoices),
			},
			{
				Name:  "generatekey",
				Usage: "Generates the identity key used for lnsocket sessions.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keyfile", Usage: "name of the key file (default ~/.config/lnunify/identity)."},
				},
				Action: generateKey,
			},
			{
				Name:  "createaccount",
				Usage: "Creates a new LndHub account and prints its secret.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Usage: "url of the hub.", Value: lndhub.DefaultURL},
					&cli.StringFlag{Name: "tor", Usage: "SOCKS address of a Tor client to dial through."},
				},
				Action: createAccount,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
