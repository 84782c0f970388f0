package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
)

// HTTPGateway talks to an external settlement service over JSON/HTTP.
// Any transport failure, timeout, or non-2xx response maps to
// KindSettlementFailed; the ledger never retries — retry policy belongs
// to the caller behind an idempotency key.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway creates a gateway client for the given base URL.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type transferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type balanceResponse struct {
	Account string          `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

func (g *HTTPGateway) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	body, err := json.Marshal(transferRequest{From: from, To: to, Amount: amount})
	if err != nil {
		return errs.New(errs.KindSettlementFailed, errs.WithCause(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return errs.New(errs.KindSettlementFailed, errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return errs.New(errs.KindSettlementFailed, errs.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.New(errs.KindSettlementFailed,
			errs.WithMessage("gateway returned %s", resp.Status))
	}
	return nil
}

func (g *HTTPGateway) BalanceOf(ctx context.Context, account string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/balances/%s", g.baseURL, account), nil)
	if err != nil {
		return decimal.Zero, errs.New(errs.KindSettlementFailed, errs.WithCause(err))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return decimal.Zero, errs.New(errs.KindSettlementFailed, errs.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, errs.New(errs.KindSettlementFailed,
			errs.WithMessage("gateway returned %s", resp.Status))
	}

	var out balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, errs.New(errs.KindSettlementFailed, errs.WithCause(err))
	}
	return out.Balance, nil
}
