package pool

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/model"
)

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for POST /pools.
type CreatePoolRequest struct {
	Manager        string          `json:"manager"`
	PoolType       string          `json:"pool_type"`
	BackingRef     string          `json:"backing_ref"`
	TargetAmount   decimal.Decimal `json:"target_amount"`
	MinInvestment  decimal.Decimal `json:"min_investment"`
	MaxPerInvestor decimal.Decimal `json:"max_per_investor"`
	APRBps         int64           `json:"apr_bps"`
}

// InvestRequest is the JSON body for POST /pools/{poolID}/invest.
type InvestRequest struct {
	Investor string          `json:"investor"`
	Amount   decimal.Decimal `json:"amount"`
}

// InvestResponse reports the minted shares.
type InvestResponse struct {
	PoolID string          `json:"pool_id"`
	Shares decimal.Decimal `json:"shares"`
}

// WithdrawRequest is the JSON body for POST /pools/{poolID}/withdraw.
type WithdrawRequest struct {
	Investor    string          `json:"investor"`
	ShareAmount decimal.Decimal `json:"share_amount"`
}

// WithdrawResponse reports the principal paid out.
type WithdrawResponse struct {
	PoolID    string          `json:"pool_id"`
	Principal decimal.Decimal `json:"principal"`
}

// DistributeRequest is the JSON body for POST /pools/{poolID}/distributions.
type DistributeRequest struct {
	Distributor string          `json:"distributor"`
	Amount      decimal.Decimal `json:"amount"`
}

// CloseRequest is the JSON body for POST /pools/{poolID}/close.
type CloseRequest struct {
	Caller string `json:"caller"`
}

// --- HTTP Handlers ---

// HandleCreatePool handles POST /api/v1/pools.
func (s *Service) HandleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("invalid request body")))
		return
	}

	pool, err := s.CreatePool(r.Context(), CreatePoolParams{
		Manager:        req.Manager,
		PoolType:       req.PoolType,
		BackingRef:     req.BackingRef,
		TargetAmount:   req.TargetAmount,
		MinInvestment:  req.MinInvestment,
		MaxPerInvestor: req.MaxPerInvestor,
		APRBps:         req.APRBps,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

// HandleListPools handles GET /api/v1/pools.
func (s *Service) HandleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.ListPools(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if pools == nil {
		pools = []model.Pool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// HandleGetPool handles GET /api/v1/pools/{poolID}.
func (s *Service) HandleGetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// HandleInvest handles POST /api/v1/pools/{poolID}/invest.
func (s *Service) HandleInvest(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req InvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("invalid request body")))
		return
	}
	if req.Investor == "" {
		writeError(w, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("investor is required")))
		return
	}

	shares, err := s.Invest(r.Context(), poolID, req.Investor, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InvestResponse{PoolID: poolID, Shares: shares})
}

// HandleWithdraw handles POST /api/v1/pools/{poolID}/withdraw.
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("invalid request body")))
		return
	}

	principal, err := s.Withdraw(r.Context(), poolID, req.Investor, req.ShareAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawResponse{PoolID: poolID, Principal: principal})
}

// HandleDistribute handles POST /api/v1/pools/{poolID}/distributions.
func (s *Service) HandleDistribute(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req DistributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("invalid request body")))
		return
	}

	result, err := s.DistributeYield(r.Context(), poolID, req.Distributor, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleClosePool handles POST /api/v1/pools/{poolID}/close.
func (s *Service) HandleClosePool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("invalid request body")))
		return
	}

	if err := s.ClosePool(r.Context(), poolID, req.Caller); err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.GetPool(r.Context(), poolID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// HandleGetPosition handles GET /api/v1/pools/{poolID}/positions/{investor}.
func (s *Service) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	position, err := s.GetUserInvestment(r.Context(),
		chi.URLParam(r, "poolID"), chi.URLParam(r, "investor"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a taxonomy error to its HTTP status and renders the
// kind, entity id, and violated bound for the caller.
func writeError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	status := http.StatusInternalServerError

	var e *errs.E
	if errors.As(err, &e) {
		status = errs.HTTPStatus(e.Kind)
		body["kind"] = string(e.Kind)
		if e.EntityID != "" {
			body["entity_id"] = e.EntityID
		}
		if e.HasBound {
			body["bound"] = e.Bound.String()
		}
	}
	writeJSON(w, status, body)
}
