package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrAccountNotFound is returned when an account does not exist.
var ErrAccountNotFound = errors.New("account not found")

const defaultReadAttempts = 3

// Client is the ledger client: account reads, token balances, transaction
// submission and signature status queries over Solana RPC.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // label for metrics, e.g. "devnet" or the RPC host

	commitment   rpc.CommitmentType
	readAttempts int
	retryBackoff time.Duration
}

// NewClient creates a ledger client. endpoint labels metrics. If metrics is
// nil, no metrics are recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		commitment:   rpc.CommitmentConfirmed,
		readAttempts: defaultReadAttempts,
		retryBackoff: time.Second,
	}
}

// WithRetryBackoff sets the base backoff between read retries.
func (c *Client) WithRetryBackoff(d time.Duration) *Client {
	c.retryBackoff = d
	return c
}

// ReadAccount returns the raw data of an account. Transient errors are
// retried with exponential backoff.
func (c *Client) ReadAccount(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	opts := &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	}
	out, err := withRetry(ctx, c, "getAccountInfo", func() (*rpc.GetAccountInfoResult, error) {
		return c.rpc.GetAccountInfoWithOpts(ctx, address, opts)
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, fmt.Errorf("failed to read account %s: %w", address, err)
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return out.Value.Data.GetBinary(), nil
}

// FetchCandyMachine reads and decodes a candy machine account.
func (c *Client) FetchCandyMachine(ctx context.Context, address solana.PublicKey) (*candymachine.Account, error) {
	data, err := c.ReadAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	acct, err := candymachine.DecodeAccount(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode candy machine %s: %w", address, err)
	}
	return acct, nil
}

// GetTokenBalance returns owner's balance of mint, in base units, held in its
// associated token account.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account: %w", err)
	}
	out, err := withRetry(ctx, c, "getTokenAccountBalance", func() (*rpc.GetTokenAccountBalanceResult, error) {
		return c.rpc.GetTokenAccountBalance(ctx, ata, c.commitment)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get token balance of %s: %w", ata, err)
	}
	if out == nil || out.Value == nil {
		return 0, fmt.Errorf("empty token balance response for %s", ata)
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

// GetNativeBalance returns owner's balance in lamports.
func (c *Client) GetNativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	out, err := withRetry(ctx, c, "getBalance", func() (*rpc.GetBalanceResult, error) {
		return c.rpc.GetBalance(ctx, owner, c.commitment)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", owner, err)
	}
	if out == nil {
		return 0, fmt.Errorf("empty balance response for %s", owner)
	}
	return out.Value, nil
}

// LatestBlockhash returns a recent blockhash for building transactions.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := withRetry(ctx, c, "getLatestBlockhash", func() (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("empty blockhash response")
	}
	return out.Value.Blockhash, nil
}

// MinimumBalanceForRentExemption returns the rent-exempt minimum for an
// account of size bytes.
func (c *Client) MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	lamports, err := withRetry(ctx, c, "getMinimumBalanceForRentExemption", func() (uint64, error) {
		return c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.commitment)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get rent exemption minimum: %w", err)
	}
	return lamports, nil
}

// Submit sends a signed transaction. It is never retried here: a failure is
// returned as a *SubmissionError.
func (c *Client) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	c.record("sendTransaction", start, err)
	if err != nil {
		se := submissionErrorFrom(err)
		c.logger.WarnContext(ctx, "transaction rejected",
			"reason", se.Reason,
			"error", err,
		)
		return solana.Signature{}, se
	}
	c.logger.InfoContext(ctx, "transaction submitted", "signature", sig.String())
	return sig, nil
}

// GetSignatureStatus performs a single status query. Retrying is left to the
// caller, which owns the polling schedule.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	c.record("getSignatureStatuses", start, err)
	if err != nil {
		return SignatureStatus{}, fmt.Errorf("failed to get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 {
		return SignatureStatus{Kind: StatusPending}, nil
	}
	status := statusFromRPC(out.Value[0])
	c.logger.DebugContext(ctx, "signature status",
		"signature", sig.String(),
		"status", status.Kind.String(),
		"slot", status.Slot,
	)
	return status, nil
}

func (c *Client) record(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// withRetry runs a read call up to c.readAttempts times, backing off
// exponentially and longer on 429 responses. Not-found is not retried.
func withRetry[T any](ctx context.Context, c *Client, method string, call func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := range c.readAttempts {
		start := time.Now()
		out, err = call()
		c.record(method, start, err)
		if err == nil || errors.Is(err, rpc.ErrNotFound) || ctx.Err() != nil {
			return out, err
		}
		if attempt == c.readAttempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * c.retryBackoff
		reason := "error"
		if strings.Contains(err.Error(), "429") {
			backoff *= 2
			reason = "rate_limit"
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		c.metrics.RecordRPCRetry(method, reason)
		c.logger.WarnContext(ctx, "rpc call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return out, err
}
