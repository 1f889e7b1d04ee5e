package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/model"
	"github.com/openclear/risk-engine/internal/monitor"
)

// Service handles the ingestion endpoints. It validates and normalizes
// requests; all accounting and risk logic lives behind the monitor.
type Service struct {
	monitor *monitor.RiskMonitor
	venues  model.VenueDatabase
}

// NewService creates the ingestion service.
func NewService(m *monitor.RiskMonitor, venues model.VenueDatabase) *Service {
	return &Service{monitor: m, venues: venues}
}

// --- Request/Response types ---

// QuoteRequest is the JSON body for POST /quotes. A zero or omitted price
// marks that side absent.
type QuoteRequest struct {
	Security string          `json:"security"` // SYMBOL.VENUE
	Ask      decimal.Decimal `json:"ask"`
	Bid      decimal.Decimal `json:"bid"`
}

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	ID          string          `json:"id"` // generated when omitted
	Account     string          `json:"account"`
	Security    string          `json:"security"` // SYMBOL.VENUE
	Side        string          `json:"side"`     // "BID" or "ASK"
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Type        string          `json:"type"` // "LIMIT" or "MARKET"
	Destination string          `json:"destination"`
}

// ExecutionReportRequest is the JSON body for POST /executions.
type ExecutionReportRequest struct {
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
	LastQuantity  decimal.Decimal `json:"last_quantity"`
	LastPrice     decimal.Decimal `json:"last_price"`
	Commission    decimal.Decimal `json:"commission"`
	ExecutionFee  decimal.Decimal `json:"execution_fee"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
}

// ParametersRequest is the JSON body for PUT /accounts/{account}/parameters.
// The parameter set replaces the account's working copy wholesale.
type ParametersRequest struct {
	Currency                  string          `json:"currency"`
	BuyingPower               decimal.Decimal `json:"buying_power"`
	AllowedState              string          `json:"allowed_state"`
	MaxNetLoss                decimal.Decimal `json:"max_net_loss"`
	TransitionDurationSeconds int64           `json:"transition_duration_seconds"`
}

// --- HTTP Handlers ---

// HandleQuote handles POST /api/v1/quotes.
func (s *Service) HandleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	security, err := model.ParseSecurity(req.Security, s.venues)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Ask.IsNegative() || req.Bid.IsNegative() {
		writeError(w, "prices must not be negative", http.StatusBadRequest)
		return
	}

	s.monitor.UpdateQuote(model.Quote{Security: security, Ask: req.Ask, Bid: req.Bid})
	w.WriteHeader(http.StatusAccepted)
}

// HandleOrder handles POST /api/v1/orders. The order is admitted against the
// account's risk state and buying power and registered with its books.
func (s *Service) HandleOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	order, err := s.buildOrder(req)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.monitor.SubmitOrder(r.Context(), order); err != nil {
		switch {
		case errors.Is(err, monitor.ErrAccountDisabled),
			errors.Is(err, monitor.ErrClosingOnly),
			errors.Is(err, monitor.ErrInsufficientBuyingPower):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, "order submission failed", http.StatusInternalServerError)
		}
		return
	}

	slog.Info("order admitted",
		"order", order.ID,
		"account", order.Fields.Account,
		"security", order.Fields.Security,
		"side", order.Fields.Side,
		"quantity", order.Fields.Quantity.String(),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// HandleExecutionReport handles POST /api/v1/executions.
func (s *Service) HandleExecutionReport(w http.ResponseWriter, r *http.Request) {
	var req ExecutionReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" {
		writeError(w, "order_id is required", http.StatusBadRequest)
		return
	}
	status := model.OrderStatus(req.Status)
	switch status {
	case model.StatusPendingNew, model.StatusNew, model.StatusPartiallyFilled,
		model.StatusFilled, model.StatusCanceled, model.StatusRejected,
		model.StatusExpired:
	default:
		writeError(w, "unknown status: "+req.Status, http.StatusBadRequest)
		return
	}

	s.monitor.UpdateExecutionReport(model.ExecutionReport{
		OrderID:       model.OrderID(req.OrderID),
		Status:        status,
		LastQuantity:  req.LastQuantity,
		LastPrice:     req.LastPrice,
		Commission:    req.Commission,
		ExecutionFee:  req.ExecutionFee,
		ProcessingFee: req.ProcessingFee,
		Timestamp:     time.Now().UTC(),
	})
	w.WriteHeader(http.StatusAccepted)
}

// HandleParameters handles PUT /api/v1/accounts/{account}/parameters.
func (s *Service) HandleParameters(w http.ResponseWriter, r *http.Request) {
	account := model.Account(chi.URLParam(r, "account"))
	var req ParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		writeError(w, "currency is required", http.StatusBadRequest)
		return
	}
	allowed := model.RiskStateType(req.AllowedState)
	switch allowed {
	case model.RiskActive, model.RiskCloseOrders, model.RiskDisabled:
	case "":
		allowed = model.RiskActive
	default:
		writeError(w, "unknown allowed_state: "+req.AllowedState, http.StatusBadRequest)
		return
	}

	parameters := model.RiskParameters{
		Currency:           model.Currency(req.Currency),
		BuyingPower:        req.BuyingPower,
		AllowedState:       model.RiskState{Type: allowed},
		MaxNetLoss:         req.MaxNetLoss,
		TransitionDuration: time.Duration(req.TransitionDurationSeconds) * time.Second,
	}
	if err := s.monitor.UpdateParameters(r.Context(), account, parameters); err != nil {
		writeError(w, "parameter update failed", http.StatusInternalServerError)
		return
	}

	slog.Info("risk parameters updated",
		"account", account,
		"currency", req.Currency,
		"max_net_loss", req.MaxNetLoss.String(),
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRiskState handles GET /api/v1/accounts/{account}/risk-state.
func (s *Service) HandleRiskState(w http.ResponseWriter, r *http.Request) {
	account := model.Account(chi.URLParam(r, "account"))
	state, ok := s.monitor.RiskState(account)
	if !ok {
		writeError(w, "unknown account", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// HandlePortfolios handles GET /api/v1/portfolios, optionally filtered by
// ?account=.
func (s *Service) HandlePortfolios(w http.ResponseWriter, r *http.Request) {
	entries := s.monitor.PortfolioEntries()
	if account := r.URL.Query().Get("account"); account != "" {
		var filtered []monitor.PortfolioEvent
		for _, e := range entries {
			if e.Account == model.Account(account) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []monitor.PortfolioEvent{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (s *Service) buildOrder(req OrderRequest) (model.Order, error) {
	if req.Account == "" {
		return model.Order{}, errors.New("account is required")
	}
	security, err := model.ParseSecurity(req.Security, s.venues)
	if err != nil {
		return model.Order{}, err
	}
	side := model.Side(req.Side)
	if side != model.SideBid && side != model.SideAsk {
		return model.Order{}, errors.New("side must be BID or ASK")
	}
	if !req.Quantity.IsPositive() {
		return model.Order{}, errors.New("quantity must be positive")
	}
	orderType := model.OrderType(req.Type)
	switch orderType {
	case model.OrderTypeLimit:
		if !req.Price.IsPositive() {
			return model.Order{}, errors.New("limit orders require a positive price")
		}
	case model.OrderTypeMarket:
	default:
		return model.Order{}, errors.New("type must be LIMIT or MARKET")
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	destination := req.Destination
	if destination == "" {
		destination = s.venues.DestinationOf(security)
	}
	return model.Order{
		ID: model.OrderID(id),
		Fields: model.OrderFields{
			Account:     model.Account(req.Account),
			Security:    security,
			Currency:    s.venues.CurrencyOf(security),
			Side:        side,
			Quantity:    req.Quantity,
			Price:       req.Price,
			Type:        orderType,
			Destination: destination,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
