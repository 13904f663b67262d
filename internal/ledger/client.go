package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/observability"
	"github.com/kursadbilgin/certanchor/internal/retry"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 2 * time.Second
	defaultCallTimeout = 10 * time.Second
	defaultMineTimeout = 2 * time.Minute
)

const (
	opVerifyByID        = "verify_certificate_by_id"
	opGetStatus         = "get_certificate_status"
	opVerifyBatch       = "verify_batch_certification"
	opVerifyInBatch     = "verify_certificate_in_batch"
	opIssueCertificate  = "issue_certificate"
	opIssueBatch        = "issue_batch"
	opUpdateStatus      = "update_certificate_status"
	opUpdateBatchStatus = "update_batch_certificate_status"
	opGrantRole         = "grant_role"
	opWaitMined         = "wait_mined"
)

type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// CallTimeout bounds each read call and each broadcast attempt.
	CallTimeout time.Duration
	// MineTimeout bounds the wait for a broadcast transaction to be mined.
	MineTimeout time.Duration
}

// RateLimiter paces outbound ledger calls per operation.
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

// Verification is the resolved answer for one certificate.
type Verification struct {
	Outcome domain.Outcome
	Status  StatusCode
	Info    CertificateInfo
}

// Receipt identifies a mined write. BatchIndex is set only by IssueBatch.
type Receipt struct {
	Op         string
	TxHash     string
	BatchIndex uint64
}

type Client struct {
	contract Contract
	cfg      Config
	limiter  RateLimiter
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewClient(contract Contract, cfg Config, limiter RateLimiter, logger *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.MineTimeout <= 0 {
		cfg.MineTimeout = defaultMineTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		contract: contract,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
	}
}

func (c *Client) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// MapSingle folds the validity flag and status code of a single-certificate lookup.
func MapSingle(valid bool, status StatusCode) domain.Outcome {
	switch {
	case status == StatusRevoked:
		return domain.OutcomeRevoked
	case !valid && status == StatusExpired:
		return domain.OutcomeExpired
	case valid:
		return domain.OutcomeValid
	default:
		return domain.OutcomeNotFound
	}
}

// MapBatch folds the Merkle root check with the status stored under the encoded proof.
// A leaf nobody has updated reports StatusUnknown, which does not block a valid proof.
func MapBatch(included bool, status StatusCode) domain.Outcome {
	switch {
	case status == StatusRevoked:
		return domain.OutcomeRevoked
	case status == StatusExpired:
		return domain.OutcomeExpired
	case included:
		return domain.OutcomeValid
	default:
		return domain.OutcomeNotFound
	}
}

// StatusFromDomain converts a store status into the code the contract expects.
func StatusFromDomain(status domain.Status) StatusCode {
	return StatusCode(status)
}

// VerifySingle resolves a certificate issued on its own. Terminal ledger rejections resolve
// to NotFound; only exhausted transport failures surface, as ErrServiceUnavailable.
func (c *Client) VerifySingle(ctx context.Context, id string) (Verification, error) {
	info, err := invoke(ctx, c, opVerifyByID, func(ctx context.Context) (CertificateInfo, error) {
		return c.contract.VerifyCertificateByID(ctx, id)
	})
	if err != nil {
		return c.verifyFailure(opVerifyByID, err)
	}

	status, err := invoke(ctx, c, opGetStatus, func(ctx context.Context) (StatusCode, error) {
		return c.contract.GetCertificateStatus(ctx, id)
	})
	if err != nil {
		return c.verifyFailure(opGetStatus, err)
	}

	return Verification{Outcome: MapSingle(info.Valid, status), Status: status, Info: info}, nil
}

// VerifyBatch checks a batch-issued certificate: the leaf must fold to the stored batch root
// through proof and the encoded proof must not map to a revoked or expired status.
func (c *Client) VerifyBatch(ctx context.Context, batchIndex uint64, dataHash [32]byte, proof [][32]byte, encodedProof [32]byte) (Verification, error) {
	included, err := invoke(ctx, c, opVerifyBatch, func(ctx context.Context) (bool, error) {
		return c.contract.VerifyBatchCertification(ctx, batchIndex, dataHash, proof)
	})
	if err != nil {
		return c.verifyFailure(opVerifyBatch, err)
	}

	status, err := invoke(ctx, c, opVerifyInBatch, func(ctx context.Context) (StatusCode, error) {
		return c.contract.VerifyCertificateInBatch(ctx, encodedProof)
	})
	if err != nil {
		return c.verifyFailure(opVerifyInBatch, err)
	}

	return Verification{Outcome: MapBatch(included, status), Status: status}, nil
}

func (c *Client) IssueCertificate(ctx context.Context, id string, certHash [32]byte, expiresAt uint64) (Receipt, error) {
	receipt, _, err := c.write(ctx, opIssueCertificate, func(ctx context.Context) (string, error) {
		return c.contract.IssueCertificate(ctx, id, certHash, expiresAt)
	})
	return receipt, err
}

// IssueBatch anchors a Merkle root and returns the batch index the contract assigned to it.
func (c *Client) IssueBatch(ctx context.Context, root [32]byte) (Receipt, error) {
	receipt, mined, err := c.write(ctx, opIssueBatch, func(ctx context.Context) (string, error) {
		return c.contract.IssueBatch(ctx, root)
	})
	if err != nil {
		return Receipt{}, err
	}
	if !mined.BatchIssued {
		return Receipt{}, &BusinessError{Op: opIssueBatch, Reason: "transaction " + receipt.TxHash + " mined without BatchIssued event"}
	}
	receipt.BatchIndex = mined.BatchIndex
	return receipt, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status StatusCode) (Receipt, error) {
	receipt, _, err := c.write(ctx, opUpdateStatus, func(ctx context.Context) (string, error) {
		return c.contract.UpdateCertificateStatus(ctx, id, status)
	})
	return receipt, err
}

func (c *Client) UpdateBatchStatus(ctx context.Context, encodedProof [32]byte, status StatusCode) (Receipt, error) {
	receipt, _, err := c.write(ctx, opUpdateBatchStatus, func(ctx context.Context) (string, error) {
		return c.contract.UpdateBatchCertificateStatus(ctx, encodedProof, status)
	})
	return receipt, err
}

func (c *Client) GrantRole(ctx context.Context, role [32]byte, account common.Address) (Receipt, error) {
	receipt, _, err := c.write(ctx, opGrantRole, func(ctx context.Context) (string, error) {
		return c.contract.GrantRole(ctx, role, account)
	})
	return receipt, err
}

// write runs a state-changing call in two steps. The broadcast is retried under the policy
// only while no transaction has reached the node. Once a hash exists, write waits for that
// transaction under ctx and never sends another. A failed write always comes back as
// (Receipt{}, error): ErrServiceUnavailable, ErrOutcomeUnknown, the caller's context error or
// a *BusinessError.
func (c *Client) write(ctx context.Context, op string, send func(context.Context) (string, error)) (Receipt, MinedTx, error) {
	txHash, err := invoke(ctx, c, op, send)
	var pendingErr *PendingError
	switch {
	case errors.As(err, &pendingErr):
		c.logger.Warn("ledger broadcast unconfirmed, waiting on transaction",
			zap.String("operation", op),
			zap.String("txHash", pendingErr.TxHash),
			zap.Error(err),
		)
		txHash = pendingErr.TxHash
	case err != nil:
		return Receipt{}, MinedTx{}, writeFailure(op, err)
	}
	if strings.TrimSpace(txHash) == "" {
		return Receipt{}, MinedTx{}, &BusinessError{Op: op, Reason: "ledger returned no transaction hash"}
	}

	mined, err := c.waitMined(ctx, op, txHash)
	if err != nil {
		return Receipt{}, MinedTx{}, err
	}
	return Receipt{Op: op, TxHash: txHash}, mined, nil
}

func (c *Client) waitMined(ctx context.Context, op, txHash string) (MinedTx, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.MineTimeout)
	defer cancel()

	started := time.Now()
	mined, err := c.contract.WaitMined(waitCtx, txHash)
	if c.metrics != nil {
		c.metrics.ObserveLedgerCall(opWaitMined, err, started)
	}
	if err == nil {
		return mined, nil
	}

	var businessErr *BusinessError
	if errors.As(err, &businessErr) {
		return MinedTx{}, err
	}
	c.logger.Error("ledger transaction sent but not confirmed",
		zap.String("operation", op),
		zap.String("txHash", txHash),
		zap.Error(err),
	)
	return MinedTx{}, &PendingError{Op: op, TxHash: txHash, Cause: err}
}

func writeFailure(op string, err error) error {
	if errors.Is(err, ErrServiceUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	var businessErr *BusinessError
	if errors.As(err, &businessErr) {
		return err
	}
	return &BusinessError{Op: op, Reason: err.Error(), Cause: err}
}

func (c *Client) verifyFailure(op string, err error) (Verification, error) {
	if errors.Is(err, ErrServiceUnavailable) || errors.Is(err, context.Canceled) {
		return Verification{}, err
	}

	c.logger.Info("ledger rejected verification, treating as not found",
		zap.String("operation", op),
		zap.Error(err),
	)
	return Verification{Outcome: domain.OutcomeNotFound}, nil
}

// invoke runs one ledger call under the retry policy. Retryable failures that survive every
// attempt become *UnavailableError; other errors are returned unchanged.
func invoke[T any](ctx context.Context, c *Client, op string, call func(context.Context) (T, error)) (T, error) {
	attempts := 0
	policy := retry.Policy{
		MaxAttempts: c.cfg.MaxAttempts,
		Delay:       c.cfg.RetryDelay,
		OnRetry: func(attempt int, err error) {
			if c.metrics != nil {
				c.metrics.IncLedgerRetry(op)
			}
			c.logger.Warn("ledger call failed, retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", c.cfg.MaxAttempts),
				zap.Error(err),
			)
		},
	}

	result, err := retry.Do(ctx, policy, IsRetryable, func(ctx context.Context) (T, error) {
		attempts++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, op); err != nil {
				var zero T
				return zero, fmt.Errorf("%w: %w", errLimiterWait, err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()

		started := time.Now()
		v, err := call(callCtx)
		if c.metrics != nil {
			c.metrics.ObserveLedgerCall(op, err, started)
		}
		return v, err
	})
	if err == nil {
		return result, nil
	}

	var zero T
	if errors.Is(err, context.Canceled) {
		return zero, fmt.Errorf("ledger %s: %w", op, err)
	}
	if IsRetryable(err) {
		c.logger.Error("ledger unreachable, attempts exhausted",
			zap.String("operation", op),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return zero, &UnavailableError{Op: op, Attempts: attempts, Cause: err}
	}
	return zero, err
}
