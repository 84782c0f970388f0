package market

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/model"
)

// --- Request types ---

// CreateListingRequest is the JSON body for POST /listings.
// ExpiresAt is a Unix timestamp in seconds; 0 = never expires.
type CreateListingRequest struct {
	Seller        string          `json:"seller"`
	PoolID        string          `json:"pool_id"`
	ShareAmount   decimal.Decimal `json:"share_amount"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	MinPurchase   decimal.Decimal `json:"min_purchase"`
	MaxPurchase   decimal.Decimal `json:"max_purchase"`
	ExpiresAt     int64           `json:"expires_at"`
}

// BuyRequest is the JSON body for POST /listings/{listingID}/buy.
type BuyRequest struct {
	Buyer       string          `json:"buyer"`
	ShareAmount decimal.Decimal `json:"share_amount"`
}

// CancelRequest is the JSON body for POST /listings/{listingID}/cancel.
type CancelRequest struct {
	Seller string `json:"seller"`
}

// --- HTTP Handlers ---

// HandleCreateListing handles POST /api/v1/listings.
func (s *Service) HandleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInvalidListingParameters,
			errs.WithMessage("invalid request body")))
		return
	}
	if req.Seller == "" {
		writeError(w, errs.New(errs.KindInvalidListingParameters,
			errs.WithMessage("seller is required")))
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != 0 {
		expiresAt = time.Unix(req.ExpiresAt, 0).UTC()
	}

	listing, err := s.CreateListing(r.Context(), CreateListingParams{
		Seller:        req.Seller,
		PoolID:        req.PoolID,
		ShareAmount:   req.ShareAmount,
		PricePerShare: req.PricePerShare,
		MinPurchase:   req.MinPurchase,
		MaxPurchase:   req.MaxPurchase,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

// HandleListListings handles GET /api/v1/listings?active=true.
func (s *Service) HandleListListings(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	listings, err := s.ListListings(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

// HandleGetListing handles GET /api/v1/listings/{listingID}.
func (s *Service) HandleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.GetListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// HandleBuy handles POST /api/v1/listings/{listingID}/buy.
func (s *Service) HandleBuy(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingID")

	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInvalidListingParameters,
			errs.WithMessage("invalid request body")))
		return
	}
	if req.Buyer == "" {
		writeError(w, errs.New(errs.KindInvalidListingParameters,
			errs.WithMessage("buyer is required")))
		return
	}

	order, err := s.BuyShares(r.Context(), req.Buyer, listingID, req.ShareAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleCancel handles POST /api/v1/listings/{listingID}/cancel.
func (s *Service) HandleCancel(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingID")

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInvalidListingParameters,
			errs.WithMessage("invalid request body")))
		return
	}

	listing, err := s.CancelListing(r.Context(), req.Seller, listingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// HandleListingOrders handles GET /api/v1/listings/{listingID}/orders.
func (s *Service) HandleListingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.ListingOrders(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// HandleStats handles GET /api/v1/marketplace/stats.
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

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
