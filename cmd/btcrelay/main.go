package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/180945/btcrelay/node"
	"github.com/180945/btcrelay/relay"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	flags "github.com/jessevdk/go-flags"
)

type options struct {
	ConfigFile string `long:"configfile" description:"Path to a JSON configuration file"`

	node.Config
}

// app carries what every command needs once flags are parsed.
type app struct {
	opts   *options
	stdin  io.Reader
	stdout io.Writer
}

func (a *app) openService() (*node.Service, error) {
	return node.NewService(a.opts.Config, nil)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func hexDecodeStrict(s string) ([]byte, error) {
	cleaned := strings.Join(strings.Fields(s), "")
	return hex.DecodeString(cleaned)
}

type initCommand struct {
	app    *app
	Header string `long:"header" required:"true" description:"Hex-encoded 80-byte starting header"`
	Height uint32 `long:"height" required:"true" description:"Height of the starting header (must be > 0)"`
}

func (c *initCommand) Execute(_ []string) error {
	raw, err := hexDecodeStrict(c.Header)
	if err != nil {
		return fmt.Errorf("header: %w", err)
	}
	svc, err := c.app.openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if _, err := svc.Initialize(raw, c.Height); err != nil {
		return err
	}
	st, err := svc.Status()
	if err != nil {
		return err
	}
	return c.app.printJSON(st)
}

type submitCommand struct {
	app *app
}

type submitOutput struct {
	Accepted   int                `json:"accepted"`
	BestBlock  string             `json:"best_block"`
	BestHeight uint32             `json:"best_height"`
	Reorgs     []relay.ChainReorg `json:"reorgs,omitempty"`
}

func (c *submitCommand) Execute(args []string) error {
	if len(args) == 0 {
		return errors.New("submit: at least one hex header required")
	}
	headers := make([][]byte, 0, len(args))
	for i, arg := range args {
		raw, err := hexDecodeStrict(arg)
		if err != nil {
			return fmt.Errorf("header %d: %w", i, err)
		}
		headers = append(headers, raw)
	}

	svc, err := c.app.openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.SubmitHeaders(headers)
	if err != nil {
		return err
	}
	return c.app.printJSON(submitOutput{
		Accepted:   len(res.Hashes),
		BestBlock:  res.State.BestBlock.String(),
		BestHeight: res.State.BestHeight,
		Reorgs:     res.Reorgs,
	})
}

type importCommand struct {
	app *app
}

func (c *importCommand) Execute(args []string) error {
	if len(args) != 1 {
		return errors.New("import: expected one file argument (or - for stdin)")
	}
	in := c.app.stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		defer f.Close()
		in = f
	}

	svc, err := c.app.openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	im, err := node.NewHeaderImporter(svc, c.app.opts.BatchSize)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := im.Import(ctx, in)
	if sum != nil {
		btrlLog.Infof("Read %d headers: %d accepted, %d skipped, %d batches",
			sum.Read, sum.Accepted, sum.Skipped, sum.Batches)
	}
	if err != nil {
		return err
	}
	return c.app.printJSON(sum)
}

type verifyCommand struct {
	app           *app
	Height        uint32 `long:"height" required:"true" description:"Main-chain height of the block"`
	Index         uint64 `long:"index" description:"Position of the transaction in the block"`
	TxID          string `long:"txid" required:"true" description:"Transaction id (display byte order)"`
	Header        string `long:"header" required:"true" description:"Hex-encoded block header"`
	Proof         string `long:"proof" description:"Hex-encoded concatenated merkle siblings, leaf level first"`
	Confirmations uint64 `long:"minconf" default:"6" description:"Required confirmations, counting the block itself"`
	Insecure      bool   `long:"insecure" description:"Skip the confirmation check if the relay allows it"`
}

func (c *verifyCommand) Execute(_ []string) error {
	txid, err := chainhash.NewHashFromStr(c.TxID)
	if err != nil {
		return fmt.Errorf("txid: %w", err)
	}
	header, err := hexDecodeStrict(c.Header)
	if err != nil {
		return fmt.Errorf("header: %w", err)
	}
	proof, err := hexDecodeStrict(c.Proof)
	if err != nil {
		return fmt.Errorf("proof: %w", err)
	}

	svc, err := c.app.openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ok, err := svc.VerifyTx(relay.VerifyTxRequest{
		Height:        c.Height,
		Index:         c.Index,
		TxID:          *txid,
		Header:        header,
		Proof:         proof,
		Confirmations: c.Confirmations,
		Insecure:      c.Insecure,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.app.stdout, ok)
	return err
}

type statusCommand struct {
	app *app
}

func (c *statusCommand) Execute(_ []string) error {
	svc, err := c.app.openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Status()
	if err != nil {
		return err
	}
	return c.app.printJSON(st)
}

func newParser(a *app) (*flags.Parser, error) {
	parser := flags.NewParser(a.opts, flags.HelpFlag|flags.PassDoubleDash)
	commands := []struct {
		name, short string
		data        any
	}{
		{"init", "Seed the relay with a trusted starting header", &initCommand{app: a}},
		{"submit", "Submit hex-encoded headers as one batch", &submitCommand{app: a}},
		{"import", "Import a file of hex headers, one per line", &importCommand{app: a}},
		{"verify", "Verify a transaction inclusion proof", &verifyCommand{app: a}},
		{"status", "Show relay state", &statusCommand{app: a}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.short, c.data); err != nil {
			return nil, err
		}
	}
	return parser, nil
}

// loadOptions resolves defaults, then the optional config file, then the
// command line.
func loadOptions(args []string) (*options, error) {
	pre := &options{}
	preParser := flags.NewParser(pre, flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	opts := &options{Config: node.DefaultConfig()}
	if pre.ConfigFile != "" {
		if err := node.LoadConfigFile(pre.ConfigFile, &opts.Config); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := loadOptions(args)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	a := &app{opts: opts, stdin: stdin, stdout: stdout}
	parser, err := newParser(a)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	parser.CommandHandler = func(cmd flags.Commander, cmdArgs []string) error {
		if cmd == nil {
			return nil
		}
		initLogging(stderr, opts.LogLevel)
		return cmd.Execute(cmdArgs)
	}

	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, ferr.Message)
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
