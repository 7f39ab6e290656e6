package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/candymint/service/config"
	"github.com/brojonat/candymint/service/db"
	"github.com/brojonat/candymint/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 10 // a mint request only carries a wallet
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxSignatureLength = 100     // signatures are 87-88 chars
	defaultListLimit   = 50
	maxListLimit       = 500
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleGetSnapshot returns the current snapshot and the anonymous
// decision against it.
// GET /api/v1/snapshot
func handleGetSnapshot(views ViewReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := views.Snapshot(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to read snapshot", "error", err)
			writeError(w, "failed to read candy machine", http.StatusBadGateway)
			return
		}

		writeJSON(w, views.Evaluate(r.Context(), s, nil), http.StatusOK)
	})
}

// handleGetEligibility evaluates one wallet against a fresh snapshot.
// GET /api/v1/eligibility/{wallet}
func handleGetEligibility(views ViewReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet, err := parseWallet(r.PathValue("wallet"))
		if err != nil {
			logger.DebugContext(r.Context(), "invalid wallet", "wallet", r.PathValue("wallet"), "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		s, err := views.Snapshot(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to read snapshot", "error", err)
			writeError(w, "failed to read candy machine", http.StatusBadGateway)
			return
		}

		view := views.Evaluate(r.Context(), s, &wallet)
		logger.DebugContext(r.Context(), "eligibility evaluated",
			"wallet", wallet.String(),
			"decision", view.Decision.Kind.String(),
		)
		writeJSON(w, view, http.StatusOK)
	})
}

// handleListAttempts lists recorded mint attempts of a wallet, newest first.
// GET /api/v1/attempts?wallet=ADDRESS&limit=N&offset=N
func handleListAttempts(attempts AttemptReader, network string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts == nil {
			writeError(w, "attempt history is not enabled", http.StatusServiceUnavailable)
			return
		}

		query := r.URL.Query()
		wallet := query.Get("wallet")
		if wallet == "" {
			writeError(w, "wallet query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(wallet); err != nil {
			logger.Debug("invalid address", "address", wallet, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, offset, err := parsePage(query.Get("limit"), query.Get("offset"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		rows, err := attempts.ListMintAttemptsByWallet(r.Context(), db.ListMintAttemptsByWalletParams{
			WalletAddress: wallet,
			Network:       network,
			Limit:         limit,
			Offset:        offset,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list mint attempts", "wallet", wallet, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("mint attempts listed", "wallet", wallet, "count", len(rows))

		resp := make([]attemptResponse, len(rows))
		for i := range rows {
			resp[i] = attemptToResponse(rows[i])
		}

		writeJSON(w, map[string]interface{}{
			"attempts": resp,
			"count":    len(resp),
			"limit":    limit,
			"offset":   offset,
		}, http.StatusOK)
	})
}

// handleGetAttempt returns one recorded attempt.
// GET /api/v1/attempts/{signature}
func handleGetAttempt(attempts AttemptReader, network string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts == nil {
			writeError(w, "attempt history is not enabled", http.StatusServiceUnavailable)
			return
		}

		signature := r.PathValue("signature")
		if err := validateSignature(signature); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		attempt, err := attempts.GetMintAttempt(r.Context(), signature, network)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "mint attempt not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get mint attempt", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, attemptToResponse(attempt), http.StatusOK)
	})
}

type startMintRequest struct {
	Wallet string `json:"wallet"`
}

// handleStartMint starts a durable mint for the requesting wallet.
// POST /api/v1/mints
func handleStartMint(mints MintService, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req startMintRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		wallet, err := parseWallet(req.Wallet)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		id, err := mints.StartMint(r.Context(), cfg.CandyMachineID.String(), temporal.MintWorkflowInput{
			Wallet:        wallet.String(),
			PollInterval:  cfg.ConfirmPollInterval,
			Timeout:       cfg.TxTimeout,
			QueryAttempts: cfg.StatusQueryAttempts,
		})
		if errors.Is(err, temporal.ErrMintInFlight) {
			writeError(w, "a mint is already in progress for this wallet", http.StatusConflict)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to start mint", "wallet", wallet.String(), "error", err)
			writeError(w, "failed to start mint", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "mint started", "wallet", wallet.String(), "workflow_id", id)
		writeJSON(w, map[string]string{
			"workflow_id": id,
			"status_url":  "/api/v1/mints/" + id,
		}, http.StatusAccepted)
	})
}

// handleGetMint reports a durable mint.
// GET /api/v1/mints/{workflow_id}
func handleGetMint(mints MintService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("workflow_id")
		if !strings.HasPrefix(id, "mint-") {
			writeError(w, "invalid workflow id", http.StatusBadRequest)
			return
		}

		status, err := mints.MintStatus(r.Context(), id)
		if errors.Is(err, temporal.ErrMintNotFound) {
			writeError(w, "mint not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get mint status", "workflow_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, status, http.StatusOK)
	})
}

// attemptResponse is the JSON response format for a mint attempt.
type attemptResponse struct {
	Signature   string          `json:"signature"`
	Network     string          `json:"network"`
	Machine     string          `json:"machine"`
	Wallet      string          `json:"wallet"`
	MintAddress *string         `json:"mint_address,omitempty"`
	Outcome     string          `json:"outcome"`
	State       string          `json:"state"`
	Cause       *string         `json:"cause,omitempty"`
	Message     string          `json:"message"`
	ErrorCode   *int64          `json:"error_code,omitempty"`
	Price       decimal.Decimal `json:"price"`
	PriceUnit   string          `json:"price_unit"`
	Polls       int32           `json:"polls"`
	SubmittedAt time.Time       `json:"submitted_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

func attemptToResponse(a *db.MintAttempt) attemptResponse {
	return attemptResponse{
		Signature:   a.Signature,
		Network:     a.Network,
		Machine:     a.MachineAddress,
		Wallet:      a.WalletAddress,
		MintAddress: a.MintAddress,
		Outcome:     a.Outcome,
		State:       a.State,
		Cause:       a.Cause,
		Message:     a.Message,
		ErrorCode:   a.ErrorCode,
		Price:       a.Price,
		PriceUnit:   a.PriceUnit,
		Polls:       a.Polls,
		SubmittedAt: a.SubmittedAt,
		ResolvedAt:  a.ResolvedAt,
	}
}

// parsePage parses limit (default 50, max 500) and offset (default 0).
func parsePage(limitStr, offsetStr string) (int32, int32, error) {
	limit := int32(defaultListLimit)
	if limitStr != "" {
		var parsed int
		if _, err := fmt.Sscanf(limitStr, "%d", &parsed); err != nil {
			return 0, 0, errorf("invalid limit parameter: must be an integer")
		}
		if parsed < 1 {
			return 0, 0, errorf("limit must be at least 1")
		}
		if parsed > maxListLimit {
			return 0, 0, errorf("limit cannot exceed %d", maxListLimit)
		}
		limit = int32(parsed)
	}

	offset := int32(0)
	if offsetStr != "" {
		var parsed int
		if _, err := fmt.Sscanf(offsetStr, "%d", &parsed); err != nil {
			return 0, 0, errorf("invalid offset parameter: must be an integer")
		}
		if parsed < 0 {
			return 0, 0, errorf("offset cannot be negative")
		}
		offset = int32(parsed)
	}

	return limit, offset, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// parseWallet validates address and decodes it as a public key.
func parseWallet(address string) (solanago.PublicKey, error) {
	if err := validateAddress(address); err != nil {
		return solanago.PublicKey{}, err
	}
	key, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return solanago.PublicKey{}, errorf("invalid wallet address: %v", err)
	}
	return key, nil
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	return validateBase58(address, "address")
}

func validateSignature(signature string) error {
	if signature == "" {
		return errorf("signature is required")
	}
	if len(signature) > maxSignatureLength {
		return errorf("signature too long: maximum length is %d characters", maxSignatureLength)
	}
	if err := validateBase58(signature, "signature"); err != nil {
		return err
	}
	if _, err := solanago.SignatureFromBase58(signature); err != nil {
		return errorf("invalid signature: %v", err)
	}
	return nil
}

func validateBase58(s, what string) error {
	for _, r := range s {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in %s: control characters not allowed", what)
		}
	}
	if !validAddressRegex.MatchString(s) {
		return errorf("invalid %s format: must contain only valid base58 characters", what)
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
