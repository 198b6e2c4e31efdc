// Package httpapi exposes the custody services over a REST API.
package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	app "github.com/rozo-network/custody_layer/internal/app"
	"github.com/rozo-network/custody_layer/internal/app/domain/custody"
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the custody REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/registry", h.registry)
	mux.HandleFunc("/escrows", h.escrows)
	mux.HandleFunc("/escrows/", h.escrowResources)
	mux.HandleFunc("/swap/pay", h.swapPay)
	mux.HandleFunc("/swap/sessions/", h.swapSessions)
	mux.HandleFunc("/treasury", h.treasury)
	mux.HandleFunc("/treasury/", h.treasuryOps)
	mux.HandleFunc("/stats/", h.userStats)
	mux.HandleFunc("/leaderboards", h.leaderboards)
	mux.HandleFunc("/leaderboards/", h.leaderboardResources)
	return mux
}

// --- registry ---------------------------------------------------------------

func (h *handler) registry(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		admin, err := h.app.Registry.Admin(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"admin": admin.String()})

	case http.MethodPost:
		var payload struct {
			Admin identity.ID `json:"admin"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Registry.Initialize(r.Context(), payload.Admin); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"admin": payload.Admin.String()})

	case http.MethodPut:
		var payload struct {
			Caller   identity.ID `json:"caller"`
			NewAdmin identity.ID `json:"new_admin"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Registry.UpdateAdmin(r.Context(), payload.Caller, payload.NewAdmin); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"admin": payload.NewAdmin.String()})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// --- escrow -----------------------------------------------------------------

func (h *handler) escrows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Owner  identity.ID `json:"owner"`
		Amount uint64      `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	esc, err := h.app.Escrow.InitializeAuthorization(r.Context(), payload.Owner, payload.Amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, escrowResponse(esc))
}

func (h *handler) escrowResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/escrows"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	owner, err := identity.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		esc, err := h.app.Escrow.Get(r.Context(), owner)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, escrowResponse(esc))
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch parts[1] {
	case "pay":
		var payload struct {
			Caller    identity.ID `json:"caller"`
			Merchant  identity.ID `json:"merchant"`
			Amount    uint64      `json:"amount"`
			SessionID string      `json:"session_id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sessionID, err := parseSessionID(payload.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		esc, err := h.app.Escrow.TapToPay(r.Context(), payload.Caller, owner, payload.Merchant, payload.Amount, sessionID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, escrowResponse(esc))

	case "revoke":
		var payload struct {
			Caller identity.ID `json:"caller"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		esc, err := h.app.Escrow.RevokeAuthorization(r.Context(), payload.Caller, owner)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, escrowResponse(esc))

	case "close":
		var payload struct {
			Caller identity.ID `json:"caller"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Escrow.CloseEscrow(r.Context(), payload.Caller, owner); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// --- swap -------------------------------------------------------------------

func (h *handler) swapPay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		User       identity.ID `json:"user"`
		SOLAmount  uint64      `json:"sol_amount"`
		USDCAmount uint64      `json:"usdc_amount"`
		Recipient  identity.ID `json:"recipient"`
		SessionID  string      `json:"session_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := h.app.Swap.SOLToUSDCPay(r.Context(), payload.User, payload.SOLAmount, payload.USDCAmount, payload.Recipient, sessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(record))
}

func (h *handler) swapSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/swap/sessions"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	user, err := identity.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sessionID, err := parseSessionID(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := h.app.Swap.Session(r.Context(), user, sessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(record))
}

// --- treasury ---------------------------------------------------------------

func (h *handler) treasury(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sol, usdc, err := h.app.Swap.TreasuryBalances(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"sol": sol, "usdc": usdc})
}

func (h *handler) treasuryOps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	op := strings.Trim(strings.TrimPrefix(r.URL.Path, "/treasury"), "/")
	var payload struct {
		Caller identity.ID `json:"caller"`
		Amount uint64      `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch op {
	case "deposit":
		err = h.app.Swap.DepositUSDC(r.Context(), payload.Caller, payload.Amount)
	case "withdraw-sol":
		err = h.app.Swap.WithdrawSOL(r.Context(), payload.Caller, payload.Amount)
	case "withdraw-usdc":
		err = h.app.Swap.WithdrawUSDC(r.Context(), payload.Caller, payload.Amount)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- stats ------------------------------------------------------------------

func (h *handler) userStats(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/stats"), "/")
	if trimmed == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	user, err := identity.Parse(trimmed)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		stats, err := h.app.Stats.UserStats(r.Context(), user)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse(stats))

	case http.MethodPost:
		stats, err := h.app.Stats.InitializeUserStats(r.Context(), user)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, statsResponse(stats))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) leaderboards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Caller   identity.ID `json:"caller"`
		Period   string      `json:"period"`
		Category string      `json:"category"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	period, err := parsePeriod(payload.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	board, err := h.app.Stats.InitializeLeaderboard(r.Context(), payload.Caller, period, payload.Category)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, leaderboardResponse(board))
}

func (h *handler) leaderboardResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/leaderboards"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	period, err := parsePeriod(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rest := parts[1:]
	update := false
	if len(rest) > 0 && rest[len(rest)-1] == "update" {
		update = true
		rest = rest[:len(rest)-1]
	}
	category := ""
	switch len(rest) {
	case 0:
	case 1:
		category = rest[0]
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if update {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Caller identity.ID `json:"caller"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		board, err := h.app.Stats.UpdateLeaderboardRankings(r.Context(), payload.Caller, period, category)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, leaderboardResponse(board))
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	board, err := h.app.Stats.Leaderboard(r.Context(), period, category)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse(board))
}

// --- helpers ----------------------------------------------------------------

func escrowResponse(esc custody.Escrow) map[string]any {
	return map[string]any{
		"owner":     esc.Owner.String(),
		"vault":     esc.Vault.String(),
		"allowed":   esc.Allowed,
		"spent":     esc.Spent,
		"remaining": esc.Remaining(),
	}
}

func sessionResponse(record custody.SessionRecord) map[string]any {
	return map[string]any{
		"user":        record.User.String(),
		"recipient":   record.Recipient.String(),
		"sol_amount":  record.SOLAmount,
		"usdc_amount": record.USDCAmount,
		"timestamp":   record.Timestamp,
		"session_id":  hex.EncodeToString(record.SessionID[:]),
	}
}

func statsResponse(stats custody.UserStats) map[string]any {
	return map[string]any{
		"user":              stats.User.String(),
		"total_spent":       stats.TotalSpent,
		"transaction_count": stats.TransactionCount,
		"last_transaction":  stats.LastTransaction,
		"rank":              stats.Rank,
		"has_name":          stats.HasName,
	}
}

func leaderboardResponse(board custody.Leaderboard) map[string]any {
	return map[string]any{
		"period":           board.TimePeriod.String(),
		"category":         board.Category,
		"last_updated":     board.LastUpdated,
		"entry_count":      board.EntryCount,
		"min_entry_amount": board.MinEntryAmount,
	}
}

func parseSessionID(raw string) (custody.SessionID, error) {
	var id custody.SessionID
	decoded, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return id, fmt.Errorf("invalid session id: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("invalid session id length: %d", len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

func parsePeriod(raw string) (custody.TimePeriod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "daily":
		return custody.PeriodDaily, nil
	case "weekly":
		return custody.PeriodWeekly, nil
	case "monthly":
		return custody.PeriodMonthly, nil
	case "all-time", "alltime":
		return custody.PeriodAllTime, nil
	default:
		return 0, fmt.Errorf("unknown time period %q", raw)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, custody.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, custody.ErrEscrowNotFound),
		errors.Is(err, custody.ErrRegistryNotInitialized),
		errors.Is(err, ledger.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, custody.ErrEscrowExists),
		errors.Is(err, custody.ErrDuplicateSession),
		errors.Is(err, custody.ErrRegistryInitialized),
		errors.Is(err, ledger.ErrRecordExists):
		return http.StatusConflict
	case errors.Is(err, custody.ErrInsufficientFunds),
		errors.Is(err, custody.ErrInsufficientLiquidity),
		errors.Is(err, custody.ErrNoRemainingAllowance),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
