package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jessevdk/go-flags"
	"github.com/kursadbilgin/certanchor/internal/app"
	"github.com/kursadbilgin/certanchor/internal/config"
	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/ledger"
	"github.com/kursadbilgin/certanchor/internal/observability"
	"github.com/kursadbilgin/certanchor/internal/service"
)

type options struct {
	Timeout time.Duration `long:"timeout" env:"CERTCTL_TIMEOUT" description:"overall command timeout" default:"15m"`
}

var opts options

type verifyCommand struct {
	ID string `long:"id" required:"true" description:"certificate number to verify"`
}

type submitCommand struct {
	Issuer string `long:"issuer" required:"true" description:"issuer id owning the batch"`
	File   string `long:"file" required:"true" description:"JSON array of candidate records, - for stdin"`
}

type statusCommand struct {
	ID string `long:"id" required:"true" description:"certificate number"`

	transition func(l *service.Lifecycle, ctx context.Context, id string) (ledger.Receipt, error)
}

type batchCommand struct {
	Token string `long:"token" required:"true" description:"batch token returned by submit"`
}

type grantRoleCommand struct {
	Account string `long:"account" required:"true" description:"address to grant the issuer role to"`
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	mustAdd(parser, "verify", "Verify a certificate", "Resolves one certificate against the store and the ledger.", &verifyCommand{})
	mustAdd(parser, "submit", "Submit a batch", "Validates, dispatches and anchors a batch of certificates.", &submitCommand{})
	mustAdd(parser, "revoke", "Revoke a certificate", "Revokes a certificate on the ledger and in the store.",
		&statusCommand{transition: (*service.Lifecycle).Revoke})
	mustAdd(parser, "renew", "Renew a certificate", "Renews a certificate on the ledger and in the store.",
		&statusCommand{transition: (*service.Lifecycle).Renew})
	mustAdd(parser, "reactivate", "Reactivate a certificate", "Reactivates a revoked certificate.",
		&statusCommand{transition: (*service.Lifecycle).Reactivate})
	mustAdd(parser, "batch", "Show a batch", "Shows the status of a submitted batch.", &batchCommand{})
	mustAdd(parser, "grant-role", "Grant the issuer role", "Grants the contract issuer role to an account.", &grantRoleCommand{})

	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}

func mustAdd(parser *flags.Parser, name, short, long string, cmd any) {
	if _, err := parser.AddCommand(name, short, long, cmd); err != nil {
		panic(fmt.Sprintf("register command %s: %v", name, err))
	}
}

// withApp loads the environment config, wires the services and runs fn under the command
// timeout and the process signals.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if cfg.SimulatedLedger() {
		logger.Warn("simulated ledger state lives only as long as this command")
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func (c *verifyCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		res, err := a.Resolver.Resolve(ctx, c.ID)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, resolutionView(res))
	})
}

func (c *submitCommand) Execute([]string) error {
	records, err := readRecords(c.File)
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		outcome, err := a.Batches.Submit(ctx, c.Issuer, records)
		if printErr := printJSON(os.Stdout, outcome); printErr != nil {
			return printErr
		}
		return err
	})
}

func (c *statusCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		receipt, err := c.transition(a.Lifecycle, ctx, c.ID)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, receipt)
	})
}

func (c *batchCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		batch, err := a.BatchStore.GetByID(ctx, c.Token)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, batch)
	})
}

func (c *grantRoleCommand) Execute([]string) error {
	if !common.IsHexAddress(c.Account) {
		return fmt.Errorf("%w: %q is not a hex address", domain.ErrValidation, c.Account)
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		receipt, err := a.Ledger.GrantRole(ctx, ledger.IssuerRole, common.HexToAddress(c.Account))
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, receipt)
	})
}

func readRecords(path string) ([]domain.CandidateRecord, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open records: %w", err)
		}
		defer f.Close()
		r = f
	}
	return decodeRecords(r)
}

func decodeRecords(r io.Reader) ([]domain.CandidateRecord, error) {
	var records []domain.CandidateRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: records must be a JSON array: %v", domain.ErrValidation, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records to submit", domain.ErrValidation)
	}
	return records, nil
}

type resolution struct {
	CertificateNumber string  `json:"certificateNumber"`
	Outcome           string  `json:"outcome"`
	IssuerID          string  `json:"issuerId,omitempty"`
	HolderName        string  `json:"holderName,omitempty"`
	CourseName        string  `json:"courseName,omitempty"`
	GrantDate         string  `json:"grantDate,omitempty"`
	ExpirationDate    string  `json:"expirationDate,omitempty"`
	TransactionHash   string  `json:"transactionHash,omitempty"`
	BatchIndex        *uint64 `json:"batchIndex,omitempty"`
	Anomaly           string  `json:"anomaly,omitempty"`
}

func resolutionView(res service.Resolution) resolution {
	view := resolution{
		CertificateNumber: res.CertificateNumber,
		Outcome:           res.Outcome.String(),
		IssuerID:          res.IssuerID,
		HolderName:        res.HolderName,
		CourseName:        res.CourseName,
		GrantDate:         res.GrantDate,
		ExpirationDate:    res.ExpirationDate,
		TransactionHash:   res.TransactionHash,
		BatchIndex:        res.BatchIndex,
	}
	if res.Anomaly != nil {
		view.Anomaly = res.Anomaly.Error()
	}
	return view
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
