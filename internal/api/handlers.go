package api

import (
	"encoding/json"
	"net/http"
	"time"

	"tradesim/internal/bracket"
	"tradesim/internal/domain"
	"tradesim/internal/engine"
)

// legSpecBody is the JSON shape for one leg of an order request.
type legSpecBody struct {
	Type         string  `json:"type"`
	LimitPrice   float64 `json:"limit_price,omitempty"`
	StopPrice    float64 `json:"stop_price,omitempty"`
	TrailAmount  float64 `json:"trail_amount,omitempty"`
	TrailPercent float64 `json:"trail_percent,omitempty"`
	TIF          string  `json:"tif,omitempty"`
	ExpiresAt    string  `json:"expires_at,omitempty"`
}

func (b legSpecBody) spec() (bracket.LegSpec, error) {
	spec := bracket.LegSpec{
		Type:         domain.OrderType(b.Type),
		LimitPrice:   b.LimitPrice,
		StopPrice:    b.StopPrice,
		TrailAmount:  b.TrailAmount,
		TrailPercent: b.TrailPercent,
		TIF:          domain.TimeInForce(b.TIF),
	}
	if b.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, b.ExpiresAt)
		if err != nil {
			return bracket.LegSpec{}, &domain.ParamError{Field: "expires_at", Reason: "must be RFC 3339"}
		}
		spec.ExpiresAt = t
	}
	return spec, nil
}

// tradeBody is the JSON shape for the signal context shared by every order
// entry endpoint.
type tradeBody struct {
	Symbol      string      `json:"symbol"`
	Side        string      `json:"side"`
	Qty         float64     `json:"qty"`
	PUp         float64     `json:"p_up"`
	Regime      string      `json:"regime"`
	SpreadBps   float64     `json:"spread_bps"`
	NewsHeat    float64     `json:"news_heat"`
	MarketValue float64     `json:"market_value"`
	Exchange    string      `json:"exchange"`
	Leg         legSpecBody `json:"leg"`
}

func (b tradeBody) request() (engine.TradeRequest, error) {
	spec, err := b.Leg.spec()
	if err != nil {
		return engine.TradeRequest{}, err
	}
	return engine.TradeRequest{
		Symbol:      b.Symbol,
		Side:        domain.Side(b.Side),
		Qty:         b.Qty,
		PUp:         b.PUp,
		Regime:      b.Regime,
		SpreadBps:   b.SpreadBps,
		NewsHeat:    b.NewsHeat,
		MarketValue: b.MarketValue,
		Exchange:    b.Exchange,
		Leg:         spec,
	}, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Order entry
// ---------------------------------------------------------------------------

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var body tradeBody
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.request()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	fill, leg, err := s.engine.SubmitOrder(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": leg, "fill": fill})
}

func (s *Server) handleCreateBracket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		tradeBody
		Stop legSpecBody  `json:"stop"`
		Take *legSpecBody `json:"take,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.request()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	stop, err := body.Stop.spec()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	breq := engine.BracketTradeRequest{TradeRequest: req, Stop: stop}
	if body.Take != nil {
		take, err := body.Take.spec()
		if err != nil {
			writeEngineError(w, err)
			return
		}
		breq.Take = &take
	}

	b, fill, err := s.engine.CreateBracket(r.Context(), breq)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bracket": b, "fill": fill})
}

func (s *Server) handleCreateOCO(w http.ResponseWriter, r *http.Request) {
	var body struct {
		tradeBody
		Other legSpecBody `json:"other"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.request()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	other, err := body.Other.spec()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	leg1, leg2, err := s.engine.CreateOCO(r.Context(), req, other)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"orders": []domain.OrderLeg{leg1, leg2}})
}

func (s *Server) handleTriggerOrder(w http.ResponseWriter, r *http.Request) {
	fill, err := s.engine.TriggerOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fill": fill})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.engine.CancelOrder(id) {
		writeError(w, http.StatusConflict, "order not cancelable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"canceled": id})
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Flatten bool   `json:"flatten"`
		Reason  string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	done := s.engine.PanicStop(r.Context(), body.Flatten, body.Reason)
	writeJSON(w, http.StatusOK, done)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"halted": s.engine.Halted()})
}

// handleTick advances every synthetic price one step and reports the marks.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"marks": s.engine.MarkToMarket()})
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.Orders()
	if r.URL.Query().Get("open") == "true" {
		open := orders[:0]
		for _, leg := range orders {
			if !leg.Status.IsTerminal() {
				open = append(open, leg)
			}
		}
		orders = open
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	leg, ok := s.engine.GetOrder(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, leg)
}

func (s *Server) handleListBrackets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"brackets": s.engine.OpenBrackets()})
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"positions": s.engine.Positions()})
}

func (s *Server) handleListFills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fills": s.engine.Fills()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Performance())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "halted": s.engine.Halted()})
}
