package pool_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/model"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/pool"
)

func newTestServer(e *env) *httptest.Server {
	r := chi.NewRouter()
	r.Get("/pools", e.svc.HandleListPools)
	r.Post("/pools", e.svc.HandleCreatePool)
	r.Get("/pools/{poolID}", e.svc.HandleGetPool)
	r.Post("/pools/{poolID}/invest", e.svc.HandleInvest)
	r.Post("/pools/{poolID}/withdraw", e.svc.HandleWithdraw)
	r.Post("/pools/{poolID}/distributions", e.svc.HandleDistribute)
	r.Post("/pools/{poolID}/close", e.svc.HandleClosePool)
	r.Get("/pools/{poolID}/positions/{investor}", e.svc.HandleGetPosition)
	return httptest.NewServer(r)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHandleCreatePool(t *testing.T) {
	e := newEnv(t)
	srv := newTestServer(e)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/pools", pool.CreatePoolRequest{
		Manager:        "manager",
		PoolType:       model.PoolTypeAssetBacked,
		BackingRef:     approvedRef,
		TargetAmount:   d("10000"),
		MinInvestment:  d("100"),
		MaxPerInvestor: d("5000"),
		APRBps:         1200,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	created := decode[model.Pool](t, resp)
	if created.ID == "" || created.Status != model.PoolStatusActive {
		t.Errorf("unexpected pool in response: %+v", created)
	}

	resp, err := http.Get(srv.URL + "/pools/" + created.ID)
	if err != nil {
		t.Fatalf("GET pool: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	fetched := decode[model.Pool](t, resp)
	if fetched.ID != created.ID {
		t.Errorf("expected pool %s, got %s", created.ID, fetched.ID)
	}
}

func TestHandleCreatePool_Unauthorized(t *testing.T) {
	e := newEnv(t)
	srv := newTestServer(e)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/pools", pool.CreatePoolRequest{
		Manager:        "stranger",
		PoolType:       model.PoolTypeAssetBacked,
		BackingRef:     approvedRef,
		TargetAmount:   d("10000"),
		MinInvestment:  d("100"),
		MaxPerInvestor: d("5000"),
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["kind"] != string(errs.KindUnauthorized) {
		t.Errorf("expected kind unauthorized, got %q", body["kind"])
	}
}

func TestHandleGetPool_NotFound(t *testing.T) {
	e := newEnv(t)
	srv := newTestServer(e)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/pools/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["kind"] != string(errs.KindNotFound) {
		t.Errorf("expected kind not_found, got %q", body["kind"])
	}
}

func TestHandleInvest(t *testing.T) {
	e := newEnv(t)
	p := e.createPool(t)
	srv := newTestServer(e)
	defer srv.Close()

	e.gateway.Credit("alice", d("5000"))

	resp := postJSON(t, srv.URL+"/pools/"+p.ID+"/invest", pool.InvestRequest{
		Investor: "alice",
		Amount:   d("5000"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	result := decode[pool.InvestResponse](t, resp)
	if !result.Shares.Equal(d("5000")) {
		t.Errorf("expected 5000 shares, got %s", result.Shares)
	}
}

func TestHandleInvest_ErrorEnvelope(t *testing.T) {
	e := newEnv(t)
	p := e.createPool(t)
	srv := newTestServer(e)
	defer srv.Close()

	e.gateway.Credit("alice", d("50"))

	// Below minimum renders 400 with the bound.
	resp := postJSON(t, srv.URL+"/pools/"+p.ID+"/invest", pool.InvestRequest{
		Investor: "alice",
		Amount:   d("50"),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["kind"] != string(errs.KindBelowMinimumInvestment) {
		t.Errorf("expected kind below_minimum_investment, got %q", body["kind"])
	}
	if body["bound"] != "100" {
		t.Errorf("expected bound 100, got %q", body["bound"])
	}
	if body["entity_id"] != p.ID {
		t.Errorf("expected entity_id %s, got %q", p.ID, body["entity_id"])
	}

	// Missing investor is rejected before the service is called.
	resp = postJSON(t, srv.URL+"/pools/"+p.ID+"/invest", pool.InvestRequest{Amount: d("500")})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing investor, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHandleWithdrawAndDistribute(t *testing.T) {
	e := newEnv(t)
	p := e.createPool(t)
	srv := newTestServer(e)
	defer srv.Close()

	e.gateway.Credit("alice", d("5000"))
	e.gateway.Credit("bob", d("5000"))
	e.gateway.Credit("distributor", d("1200"))

	for _, investor := range []string{"alice", "bob"} {
		resp := postJSON(t, srv.URL+"/pools/"+p.ID+"/invest", pool.InvestRequest{
			Investor: investor,
			Amount:   d("5000"),
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("invest %s: expected 200, got %d", investor, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := postJSON(t, srv.URL+"/pools/"+p.ID+"/distributions", pool.DistributeRequest{
		Distributor: "distributor",
		Amount:      d("1200"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("distribute: expected 200, got %d", resp.StatusCode)
	}
	result := decode[model.DistributionResult](t, resp)
	if !result.TotalPaid.Equal(d("1200")) || !result.Dust.IsZero() {
		t.Errorf("expected paid 1200 / zero dust, got %s / %s", result.TotalPaid, result.Dust)
	}

	resp = postJSON(t, srv.URL+"/pools/"+p.ID+"/withdraw", pool.WithdrawRequest{
		Investor:    "alice",
		ShareAmount: d("5000"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d", resp.StatusCode)
	}
	withdrawal := decode[pool.WithdrawResponse](t, resp)
	if !withdrawal.Principal.Equal(d("5000")) {
		t.Errorf("expected principal 5000, got %s", withdrawal.Principal)
	}
}

func TestHandleClosePool(t *testing.T) {
	e := newEnv(t)
	p := e.createPool(t)
	srv := newTestServer(e)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/pools/"+p.ID+"/close", pool.CloseRequest{Caller: "manager"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	closed := decode[model.Pool](t, resp)
	if closed.Status != model.PoolStatusClosed {
		t.Errorf("expected closed status, got %s", closed.Status)
	}

	// A closed pool rejects investments with 409.
	e.gateway.Credit("alice", d("500"))
	resp = postJSON(t, srv.URL+"/pools/"+p.ID+"/invest", pool.InvestRequest{
		Investor: "alice",
		Amount:   d("500"),
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHandleGetPosition(t *testing.T) {
	e := newEnv(t)
	p := e.createPool(t)
	srv := newTestServer(e)
	defer srv.Close()

	e.gateway.Credit("alice", d("1500"))
	resp := postJSON(t, srv.URL+"/pools/"+p.ID+"/invest", pool.InvestRequest{
		Investor: "alice",
		Amount:   d("1500"),
	})
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/pools/" + p.ID + "/positions/alice")
	if err != nil {
		t.Fatalf("GET position: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	position := decode[model.InvestorPosition](t, resp)
	if !position.CumulativeInvested.Equal(d("1500")) || !position.ShareBalance.Equal(d("1500")) {
		t.Errorf("unexpected position: %+v", position)
	}
}
