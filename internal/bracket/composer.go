// Package bracket owns the order-leg lifecycle: bracket and OCO construction,
// fill application, and the cancellation / activation cascades that keep
// linked legs consistent.
package bracket

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradesim/internal/domain"
)

// fillEpsilon absorbs float accumulation error when deciding completion.
const fillEpsilon = 1e-9

// LegSpec describes one leg of a bracket or OCO order before it is built.
type LegSpec struct {
	Type         domain.OrderType
	LimitPrice   float64
	StopPrice    float64
	TrailAmount  float64
	TrailPercent float64
	TIF          domain.TimeInForce
	ExpiresAt    time.Time
}

// BracketRequest is the input to CreateBracket. Stop is mandatory; Take is
// optional. The stop and take legs are built on the opposite side of the
// entry with the same quantity.
type BracketRequest struct {
	Symbol string
	Side   domain.Side
	Qty    float64
	Entry  LegSpec
	Stop   LegSpec
	Take   *LegSpec
}

// FillOutcome reports what a fill application did, including every cascade
// effect that happened as part of the same transition.
type FillOutcome struct {
	Applied           bool
	Completed         bool
	Leg               domain.OrderLeg
	CanceledSiblings  []domain.OrderLeg
	ActivatedChildren []domain.OrderLeg
}

// Composer owns every order leg. A single lock serializes mutations, so a
// terminal fill and its cascades form one atomic transition: no caller ever
// observes a filled OCO leg alongside a still-live sibling.
type Composer struct {
	mu       sync.Mutex
	log      *slog.Logger
	legs     map[string]*domain.OrderLeg
	brackets map[string]*domain.BracketOrder
	groups   map[string][]string // oco group -> member leg ids
}

// NewComposer creates an empty Composer.
func NewComposer(log *slog.Logger) *Composer {
	if log == nil {
		log = slog.Default()
	}
	return &Composer{
		log:      log,
		legs:     make(map[string]*domain.OrderLeg),
		brackets: make(map[string]*domain.BracketOrder),
		groups:   make(map[string][]string),
	}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// CreateOrder builds a single standalone leg in PENDING state.
func (c *Composer) CreateOrder(symbol string, side domain.Side, qty float64, spec LegSpec) (domain.OrderLeg, error) {
	if err := validateLeg(symbol, side, qty, spec); err != nil {
		return domain.OrderLeg{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	leg := c.buildLeg(symbol, side, qty, spec)
	c.legs[leg.ID] = leg
	return snapshotLeg(leg), nil
}

// CreateBracket validates the whole request and then builds the entry leg,
// a stop leg, and an optional take-profit leg. Construction is all or
// nothing: validation failures happen before any leg exists. Stop and take,
// when both present, share a fresh OCO group, and both list the entry leg as
// their parent. Every leg starts PENDING.
func (c *Composer) CreateBracket(req BracketRequest) (domain.BracketOrder, error) {
	if err := validateLeg(req.Symbol, req.Side, req.Qty, req.Entry); err != nil {
		return domain.BracketOrder{}, fmt.Errorf("entry leg: %w", err)
	}
	if err := validateLeg(req.Symbol, req.Side.Opposite(), req.Qty, req.Stop); err != nil {
		return domain.BracketOrder{}, fmt.Errorf("stop leg: %w", err)
	}
	if req.Take != nil {
		if err := validateLeg(req.Symbol, req.Side.Opposite(), req.Qty, *req.Take); err != nil {
			return domain.BracketOrder{}, fmt.Errorf("take leg: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	parent := c.buildLeg(req.Symbol, req.Side, req.Qty, req.Entry)
	stop := c.buildLeg(req.Symbol, req.Side.Opposite(), req.Qty, req.Stop)
	stop.ParentID = parent.ID
	parent.ChildIDs = append(parent.ChildIDs, stop.ID)

	var take *domain.OrderLeg
	if req.Take != nil {
		take = c.buildLeg(req.Symbol, req.Side.Opposite(), req.Qty, *req.Take)
		take.ParentID = parent.ID
		parent.ChildIDs = append(parent.ChildIDs, take.ID)

		group := uuid.NewString()
		stop.OCOGroup = group
		take.OCOGroup = group
		c.groups[group] = []string{stop.ID, take.ID}
	}

	c.legs[parent.ID] = parent
	c.legs[stop.ID] = stop
	if take != nil {
		c.legs[take.ID] = take
	}

	b := &domain.BracketOrder{
		BracketID:  uuid.NewString(),
		Parent:     parent,
		StopLoss:   stop,
		TakeProfit: take,
		CreatedAt:  time.Now(),
	}
	c.brackets[b.BracketID] = b

	c.log.Info("bracket created",
		"bracket_id", b.BracketID, "symbol", req.Symbol, "side", req.Side,
		"qty", req.Qty, "legs", len(b.Legs()))

	return snapshotBracket(b), nil
}

// CreateOCO builds two independent legs that share one OCO group and have no
// parent/child relationship.
func (c *Composer) CreateOCO(symbol string, side domain.Side, qty float64, spec1, spec2 LegSpec) (domain.OrderLeg, domain.OrderLeg, error) {
	if err := validateLeg(symbol, side, qty, spec1); err != nil {
		return domain.OrderLeg{}, domain.OrderLeg{}, fmt.Errorf("first leg: %w", err)
	}
	if err := validateLeg(symbol, side, qty, spec2); err != nil {
		return domain.OrderLeg{}, domain.OrderLeg{}, fmt.Errorf("second leg: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	leg1 := c.buildLeg(symbol, side, qty, spec1)
	leg2 := c.buildLeg(symbol, side, qty, spec2)

	group := uuid.NewString()
	leg1.OCOGroup = group
	leg2.OCOGroup = group
	c.groups[group] = []string{leg1.ID, leg2.ID}

	c.legs[leg1.ID] = leg1
	c.legs[leg2.ID] = leg2

	return snapshotLeg(leg1), snapshotLeg(leg2), nil
}

// buildLeg constructs a PENDING leg. Callers must hold c.mu and must have
// validated the spec already.
func (c *Composer) buildLeg(symbol string, side domain.Side, qty float64, spec LegSpec) *domain.OrderLeg {
	now := time.Now()
	tif := spec.TIF
	if tif == "" {
		tif = domain.TIFGTC
	}
	expires := spec.ExpiresAt
	if tif == domain.TIFDay && expires.IsZero() {
		// Day orders lapse at the next UTC midnight unless told otherwise.
		expires = now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
	return &domain.OrderLeg{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Side:         side,
		Qty:          qty,
		Type:         spec.Type,
		LimitPrice:   spec.LimitPrice,
		StopPrice:    spec.StopPrice,
		TrailAmount:  spec.TrailAmount,
		TrailPercent: spec.TrailPercent,
		TIF:          tif,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    expires,
	}
}

// validateLeg rejects malformed specs before any leg object exists.
func validateLeg(symbol string, side domain.Side, qty float64, spec LegSpec) error {
	if symbol == "" {
		return &domain.ParamError{Field: "symbol", Reason: "must not be empty"}
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return &domain.ParamError{Field: "side", Reason: fmt.Sprintf("unknown side %q", side)}
	}
	if qty <= 0 {
		return &domain.ParamError{Field: "qty", Reason: "must be positive"}
	}
	if !domain.ValidOrderType(spec.Type) {
		return &domain.ParamError{Field: "type", Reason: fmt.Sprintf("unknown order type %q", spec.Type)}
	}
	switch spec.Type {
	case domain.OrderTypeLimit, domain.OrderTypeStopLimit:
		if spec.LimitPrice <= 0 {
			return &domain.ParamError{Field: "limit_price", Reason: fmt.Sprintf("required for %s orders", spec.Type)}
		}
	}
	switch spec.Type {
	case domain.OrderTypeStop, domain.OrderTypeStopLimit, domain.OrderTypeTrailingStop:
		if spec.StopPrice <= 0 {
			return &domain.ParamError{Field: "stop_price", Reason: fmt.Sprintf("required for %s orders", spec.Type)}
		}
	}
	if spec.Type == domain.OrderTypeTrailingStop && spec.TrailAmount <= 0 && spec.TrailPercent <= 0 {
		return &domain.ParamError{Field: "trail_amount", Reason: "trailing stop requires trail_amount or trail_percent"}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Lifecycle transitions
// ---------------------------------------------------------------------------

// MarkSubmitted moves a PENDING leg to SUBMITTED.
func (c *Composer) MarkSubmitted(orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	leg, ok := c.legs[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	return c.transition(leg, domain.StatusSubmitted)
}

// MarkRejected moves a non-terminal leg to REJECTED.
func (c *Composer) MarkRejected(orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	leg, ok := c.legs[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	return c.transition(leg, domain.StatusRejected)
}

// UpdateFill applies an execution report to the leg. The running
// average fill price is volume weighted across every fill the leg has
// received; commission accrues. When the leg becomes fully filled it
// transitions to FILLED and, within the same locked transition, every
// non-terminal member of its OCO group is canceled and every PENDING child is
// activated to SUBMITTED. Partial fills only move the leg to
// PARTIALLY_FILLED and never trigger cascades.
//
// An unknown order id returns domain.ErrOrderNotFound with Applied=false;
// callers routinely probe and should treat that as a soft failure.
func (c *Composer) UpdateFill(orderID string, qty, price, commission float64) (FillOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	leg, ok := c.legs[orderID]
	if !ok {
		return FillOutcome{}, domain.ErrOrderNotFound
	}
	if leg.Status.IsTerminal() {
		return FillOutcome{}, fmt.Errorf("order %s is %s: no further fills accepted", orderID, leg.Status)
	}
	if leg.Status == domain.StatusPending {
		return FillOutcome{}, fmt.Errorf("order %s has not been submitted", orderID)
	}
	if qty <= 0 {
		return FillOutcome{}, &domain.ParamError{Field: "filled_qty", Reason: "must be positive"}
	}
	if leg.FilledQty+qty > leg.Qty+fillEpsilon {
		return FillOutcome{}, fmt.Errorf("fill of %v exceeds remaining quantity %v on order %s", qty, leg.Remaining(), orderID)
	}

	// Volume-weighted running average across all fills on this leg.
	newFilled := leg.FilledQty + qty
	leg.AvgFillPrice = (leg.AvgFillPrice*leg.FilledQty + price*qty) / newFilled
	leg.FilledQty = newFilled
	leg.Commission += commission
	leg.UpdatedAt = time.Now()

	out := FillOutcome{Applied: true}

	if leg.Qty-leg.FilledQty <= fillEpsilon {
		leg.FilledQty = leg.Qty
		if err := c.transition(leg, domain.StatusFilled); err != nil {
			return FillOutcome{}, err
		}
		out.Completed = true
		out.CanceledSiblings = c.cancelOCOSiblings(leg)
		out.ActivatedChildren = c.activateChildren(leg)
	} else {
		if err := c.transition(leg, domain.StatusPartiallyFilled); err != nil {
			return FillOutcome{}, err
		}
	}

	out.Leg = snapshotLeg(leg)
	return out, nil
}

// CancelOrder cancels a leg. Terminal legs (including already-canceled ones)
// return false, which makes the call idempotent. Cancellation cascades to
// non-terminal OCO siblings and recursively to PENDING/SUBMITTED children;
// children that already filled are untouched.
func (c *Composer) CancelOrder(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	leg, ok := c.legs[orderID]
	if !ok || leg.Status.IsTerminal() {
		return false
	}
	c.cancelLocked(leg)
	return true
}

// cancelLocked cancels leg and runs its cascades. Callers must hold c.mu.
func (c *Composer) cancelLocked(leg *domain.OrderLeg) {
	if err := c.transition(leg, domain.StatusCanceled); err != nil {
		c.log.Error("cancel transition failed", "order_id", leg.ID, "status", leg.Status, "error", err)
		return
	}
	c.cancelOCOSiblings(leg)
	c.cancelOpenChildren(leg)
}

// cancelOCOSiblings cancels every non-terminal member of leg's OCO group,
// returning snapshots of the legs it canceled. Callers must hold c.mu.
func (c *Composer) cancelOCOSiblings(leg *domain.OrderLeg) []domain.OrderLeg {
	if leg.OCOGroup == "" {
		return nil
	}
	var canceled []domain.OrderLeg
	for _, id := range c.groups[leg.OCOGroup] {
		if id == leg.ID {
			continue
		}
		sib, ok := c.legs[id]
		if !ok || sib.Status.IsTerminal() {
			continue
		}
		if err := c.transition(sib, domain.StatusCanceled); err != nil {
			c.log.Error("oco cascade failed", "order_id", sib.ID, "error", err)
			continue
		}
		c.cancelOpenChildren(sib)
		canceled = append(canceled, snapshotLeg(sib))
	}
	return canceled
}

// cancelOpenChildren recursively cancels PENDING and SUBMITTED children.
// Callers must hold c.mu.
func (c *Composer) cancelOpenChildren(leg *domain.OrderLeg) {
	for _, id := range leg.ChildIDs {
		child, ok := c.legs[id]
		if !ok {
			continue
		}
		if child.Status != domain.StatusPending && child.Status != domain.StatusSubmitted {
			continue
		}
		if err := c.transition(child, domain.StatusCanceled); err != nil {
			c.log.Error("child cancel failed", "order_id", child.ID, "error", err)
			continue
		}
		c.cancelOpenChildren(child)
	}
}

// activateChildren moves PENDING children of a filled parent to SUBMITTED and
// returns their snapshots. Callers must hold c.mu.
func (c *Composer) activateChildren(leg *domain.OrderLeg) []domain.OrderLeg {
	var activated []domain.OrderLeg
	for _, id := range leg.ChildIDs {
		child, ok := c.legs[id]
		if !ok || child.Status != domain.StatusPending {
			continue
		}
		if err := c.transition(child, domain.StatusSubmitted); err != nil {
			c.log.Error("child activation failed", "order_id", child.ID, "error", err)
			continue
		}
		activated = append(activated, snapshotLeg(child))
	}
	return activated
}

// ExpireStale moves open DAY/GTD legs whose expiry has passed to EXPIRED and
// cancels their open children. Returns snapshots of the expired legs.
func (c *Composer) ExpireStale(now time.Time) []domain.OrderLeg {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []domain.OrderLeg
	for _, leg := range c.legs {
		if leg.Status.IsTerminal() || leg.ExpiresAt.IsZero() || !now.After(leg.ExpiresAt) {
			continue
		}
		if leg.TIF != domain.TIFDay && leg.TIF != domain.TIFGTD {
			continue
		}
		if err := c.transition(leg, domain.StatusExpired); err != nil {
			c.log.Error("expiry transition failed", "order_id", leg.ID, "error", err)
			continue
		}
		c.cancelOpenChildren(leg)
		expired = append(expired, snapshotLeg(leg))
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired
}

// RepegTrailingStops ratchets open trailing-stop legs on symbol toward the
// mark price. Sell-side stops only move up, buy-side stops only move down;
// a trailing stop never loosens. Returns snapshots of the legs it moved.
func (c *Composer) RepegTrailingStops(symbol string, markPrice float64) []domain.OrderLeg {
	c.mu.Lock()
	defer c.mu.Unlock()

	var moved []domain.OrderLeg
	for _, leg := range c.legs {
		if leg.Symbol != symbol || leg.Type != domain.OrderTypeTrailingStop {
			continue
		}
		if leg.Status != domain.StatusPending && leg.Status != domain.StatusSubmitted {
			continue
		}

		var candidate float64
		if leg.Side == domain.SideSell {
			candidate = markPrice - leg.TrailAmount
			if leg.TrailPercent > 0 {
				candidate = markPrice * (1 - leg.TrailPercent/100)
			}
			if candidate <= leg.StopPrice {
				continue
			}
		} else {
			candidate = markPrice + leg.TrailAmount
			if leg.TrailPercent > 0 {
				candidate = markPrice * (1 + leg.TrailPercent/100)
			}
			if candidate >= leg.StopPrice {
				continue
			}
		}

		leg.StopPrice = candidate
		leg.UpdatedAt = time.Now()
		moved = append(moved, snapshotLeg(leg))
	}
	sort.Slice(moved, func(i, j int) bool { return moved[i].ID < moved[j].ID })
	return moved
}

// transition applies a validated status change. Callers must hold c.mu.
func (c *Composer) transition(leg *domain.OrderLeg, to domain.OrderStatus) error {
	if !domain.CanTransition(leg.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s for order %s", leg.Status, to, leg.ID)
	}
	leg.Status = to
	leg.UpdatedAt = time.Now()
	return nil
}

// ---------------------------------------------------------------------------
// Snapshots and recovery
// ---------------------------------------------------------------------------

// GetOrder returns a snapshot of the leg with the given id.
func (c *Composer) GetOrder(orderID string) (domain.OrderLeg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	leg, ok := c.legs[orderID]
	if !ok {
		return domain.OrderLeg{}, false
	}
	return snapshotLeg(leg), true
}

// Orders returns snapshots of every leg, sorted by creation time.
func (c *Composer) Orders() []domain.OrderLeg {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.OrderLeg, 0, len(c.legs))
	for _, leg := range c.legs {
		out = append(out, snapshotLeg(leg))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// OpenOrders returns snapshots of every non-terminal leg, sorted by creation
// time.
func (c *Composer) OpenOrders() []domain.OrderLeg {
	all := c.Orders()
	out := all[:0]
	for _, leg := range all {
		if !leg.Status.IsTerminal() {
			out = append(out, leg)
		}
	}
	return out
}

// OpenBrackets returns snapshots of brackets with at least one non-terminal
// leg.
func (c *Composer) OpenBrackets() []domain.BracketOrder {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []domain.BracketOrder
	for _, b := range c.brackets {
		open := false
		for _, leg := range b.Legs() {
			if !leg.Status.IsTerminal() {
				open = true
				break
			}
		}
		if open {
			out = append(out, snapshotBracket(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BracketID < out[j].BracketID })
	return out
}

// Adopt installs previously journaled legs, rebuilding OCO group membership
// and synthesizing bracket records for legs that have children. It is used to
// reconstruct composer state from the audit journal after a restart.
func (c *Composer) Adopt(legs []domain.OrderLeg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range legs {
		leg := legs[i]
		cp := leg
		cp.ChildIDs = append([]string(nil), leg.ChildIDs...)
		c.legs[cp.ID] = &cp

		if cp.OCOGroup != "" {
			members := c.groups[cp.OCOGroup]
			if !containsID(members, cp.ID) {
				c.groups[cp.OCOGroup] = append(members, cp.ID)
			}
		}
	}

	// Legs with children are bracket parents; rebuild the bracket records.
	for _, leg := range c.legs {
		if len(leg.ChildIDs) == 0 || leg.ParentID != "" {
			continue
		}
		b := &domain.BracketOrder{BracketID: leg.ID, Parent: leg, CreatedAt: leg.CreatedAt}
		for _, childID := range leg.ChildIDs {
			child, ok := c.legs[childID]
			if !ok {
				continue
			}
			switch child.Type {
			case domain.OrderTypeStop, domain.OrderTypeStopLimit, domain.OrderTypeTrailingStop:
				b.StopLoss = child
			default:
				b.TakeProfit = child
			}
		}
		c.brackets[b.BracketID] = b
	}
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// snapshotLeg deep-copies a leg so callers never alias composer state.
func snapshotLeg(leg *domain.OrderLeg) domain.OrderLeg {
	cp := *leg
	cp.ChildIDs = append([]string(nil), leg.ChildIDs...)
	return cp
}

func snapshotBracket(b *domain.BracketOrder) domain.BracketOrder {
	cp := domain.BracketOrder{BracketID: b.BracketID, CreatedAt: b.CreatedAt}
	parent := snapshotLeg(b.Parent)
	cp.Parent = &parent
	if b.StopLoss != nil {
		stop := snapshotLeg(b.StopLoss)
		cp.StopLoss = &stop
	}
	if b.TakeProfit != nil {
		take := snapshotLeg(b.TakeProfit)
		cp.TakeProfit = &take
	}
	return cp
}
