package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	app "github.com/rozo-network/custody_layer/internal/app"
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
	"github.com/rozo-network/custody_layer/internal/app/ledger/memory"
	"github.com/rozo-network/custody_layer/internal/app/services/swap"
)

func testIdentity(b byte) identity.ID {
	var id identity.ID
	id[0] = b
	return id
}

func newServer(t *testing.T) (*httptest.Server, *memory.Ledger, identity.ID) {
	t.Helper()
	mem := memory.New()
	admin := testIdentity(0xAD)

	application, err := app.New(app.Options{Ledger: mem, Admin: admin}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { application.Stop(context.Background()) })

	srv := httptest.NewServer(NewHandler(application))
	t.Cleanup(srv.Close)
	return srv, mem, admin
}

func doJSON(t *testing.T, method, url string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, decoded
}

func TestHandler_EscrowFlow(t *testing.T) {
	srv, mem, admin := newServer(t)
	owner := testIdentity(1)
	merchant := testIdentity(2)
	stranger := testIdentity(3)
	mem.Fund(owner, ledger.AssetUSDC, 1000)

	session := strings.Repeat("ab", 32)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/escrows", map[string]any{
		"owner": owner.String(), "amount": 500,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create escrow: status %d body %v", resp.StatusCode, body)
	}
	if body["remaining"].(float64) != 500 {
		t.Fatalf("unexpected remaining: %v", body["remaining"])
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/escrows", map[string]any{
		"owner": owner.String(), "amount": 100,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate escrow: status %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/escrows/"+owner.String()+"/pay", map[string]any{
		"caller": admin.String(), "merchant": merchant.String(), "amount": 200, "session_id": session,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pay: status %d body %v", resp.StatusCode, body)
	}
	if body["spent"].(float64) != 200 {
		t.Fatalf("unexpected spent: %v", body["spent"])
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/escrows/"+owner.String()+"/pay", map[string]any{
		"caller": stranger.String(), "merchant": merchant.String(), "amount": 1, "session_id": session,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthorized pay: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/escrows/"+owner.String()+"/pay", map[string]any{
		"caller": admin.String(), "merchant": merchant.String(), "amount": 10_000, "session_id": session,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("over-limit pay: status %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/escrows/"+owner.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get escrow: status %d", resp.StatusCode)
	}
	if body["remaining"].(float64) != 300 {
		t.Fatalf("unexpected remaining: %v", body["remaining"])
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/escrows/"+testIdentity(9).String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing escrow: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/escrows/"+owner.String()+"/revoke", map[string]any{
		"caller": owner.String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/escrows/"+owner.String()+"/close", map[string]any{
		"caller": owner.String(),
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close: status %d", resp.StatusCode)
	}
}

func TestHandler_SwapFlow(t *testing.T) {
	srv, mem, _ := newServer(t)
	user := testIdentity(1)
	recipient := testIdentity(2)
	mem.Fund(user, ledger.AssetSOL, 1000)

	session := strings.Repeat("cd", 32)
	payload := map[string]any{
		"user": user.String(), "sol_amount": 100, "usdc_amount": 150,
		"recipient": recipient.String(), "session_id": session,
	}

	// No pooled liquidity yet.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/swap/pay", payload)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("dry pool: status %d", resp.StatusCode)
	}

	mem.Fund(swap.TreasuryVaultAddress(), ledger.AssetUSDC, 1000)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/swap/pay", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("swap pay: status %d body %v", resp.StatusCode, body)
	}
	if body["session_id"].(string) != session {
		t.Fatalf("unexpected session id: %v", body["session_id"])
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/swap/pay", payload)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("replayed session: status %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/swap/sessions/"+user.String()+"/"+session, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session: status %d", resp.StatusCode)
	}
	if body["usdc_amount"].(float64) != 150 {
		t.Fatalf("unexpected usdc amount: %v", body["usdc_amount"])
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/treasury", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("treasury: status %d", resp.StatusCode)
	}
	if body["sol"].(float64) != 100 || body["usdc"].(float64) != 850 {
		t.Fatalf("unexpected treasury balances: %v", body)
	}
}

func TestHandler_RegistryAndLeaderboards(t *testing.T) {
	srv, _, admin := newServer(t)
	stranger := testIdentity(7)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/registry", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get registry: status %d", resp.StatusCode)
	}
	if body["admin"].(string) != admin.String() {
		t.Fatalf("unexpected admin: %v", body["admin"])
	}

	// The registry was bootstrapped on startup.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/registry", map[string]any{"admin": stranger.String()})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-initialize registry: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/leaderboards", map[string]any{
		"caller": stranger.String(), "period": "all-time", "category": "",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthorized leaderboard: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/leaderboards", map[string]any{
		"caller": admin.String(), "period": "weekly", "category": "coffee",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create leaderboard: status %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/leaderboards/weekly/coffee", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get leaderboard: status %d", resp.StatusCode)
	}
	if body["category"].(string) != "coffee" {
		t.Fatalf("unexpected category: %v", body["category"])
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/leaderboards/weekly/coffee/update", map[string]any{
		"caller": admin.String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update leaderboard: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/leaderboards/bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad period: status %d", resp.StatusCode)
	}
}

func TestHandler_UserStats(t *testing.T) {
	srv, _, _ := newServer(t)
	user := testIdentity(1)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/stats/"+user.String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing stats: status %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/stats/"+user.String(), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("opt in: status %d body %v", resp.StatusCode, body)
	}
	if body["total_spent"].(float64) != 0 {
		t.Fatalf("unexpected total: %v", body["total_spent"])
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/stats/"+user.String(), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate opt in: status %d", resp.StatusCode)
	}
}
