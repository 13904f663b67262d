package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrServiceUnavailable means the ledger could not be reached after every attempt was spent.
var ErrServiceUnavailable = errors.New("ledger service unavailable")

// ErrOutcomeUnknown means a write transaction was broadcast but never confirmed. It must not be
// sent again; the transaction hash identifies it for reconciliation.
var ErrOutcomeUnknown = errors.New("ledger write outcome unknown")

var errLimiterWait = errors.New("rate limiter wait failed")

// PendingError carries the hash of a transaction that may still be mined.
type PendingError struct {
	Op     string
	TxHash string
	Cause  error
}

func (e *PendingError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s tx %s: %v", ErrOutcomeUnknown, e.Op, e.TxHash, e.Cause)
}

func (e *PendingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *PendingError) Is(target error) bool {
	return target == ErrOutcomeUnknown
}

// UnavailableError carries the last transport failure behind ErrServiceUnavailable.
type UnavailableError struct {
	Op       string
	Attempts int
	Cause    error
}

func (e *UnavailableError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s after %d attempts: %v", ErrServiceUnavailable, e.Op, e.Attempts, e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// BusinessError is a terminal rejection by the ledger, such as a contract revert or a stale nonce.
type BusinessError struct {
	Op     string
	Reason string
	Cause  error
}

func (e *BusinessError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	parts = append(parts, "ledger rejected "+e.Op)
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		parts = append(parts, reason)
	}
	if e.Cause != nil && e.Cause.Error() != e.Reason {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *BusinessError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

var retryableMessages = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"502",
	"503",
	"504",
	"429",
	"too many requests",
}

var terminalMessages = []string{
	"execution reverted",
	"revert",
	"nonce too low",
	"nonce too high",
	"replacement transaction underpriced",
	"insufficient funds",
}

// IsRetryable reports whether a ledger call failure is a transport problem worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	var businessErr *BusinessError
	if errors.As(err, &businessErr) {
		return false
	}
	var pendingErr *PendingError
	if errors.As(err, &pendingErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errLimiterWait) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range terminalMessages {
		if strings.Contains(msg, m) {
			return false
		}
	}
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
