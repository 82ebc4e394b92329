package cart

import (
	"errors"
	"sync"
	"time"

	"commerce-core/internal/models"
)

// ErrInvalidQuantity is returned when an added line has quantity < 1.
var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Change describes one cart mutation, delivered to subscribers.
type Change struct {
	Op         string
	ProductID  string
	VariantKey string
	LineCount  int
	ItemCount  int
}

// Mutation ops reported in Change.Op
const (
	OpAdd          = "add"
	OpUpdate       = "update"
	OpRemove       = "remove"
	OpClear        = "clear"
	OpApplyCoupon  = "apply_coupon"
	OpRemoveCoupon = "remove_coupon"
)

// Store owns the mutable cart for one user session. Lines are unique by
// (productID, variantKey) and kept in insertion order. All quantities are
// >= 1: a line driven to zero is removed, never stored.
type Store struct {
	mu         sync.Mutex
	userID     string
	lines      []models.CartLine
	couponCode string

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// NewStore creates an empty cart for a user session.
func NewStore(userID string) *Store {
	return &Store{
		userID: userID,
		subs:   make(map[int]func(Change)),
	}
}

// UserID returns the owning session's user id.
func (s *Store) UserID() string {
	return s.userID
}

// AddItem adds a line to the cart. A line with the same (productID,
// variantKey) is merged by incrementing its quantity.
func (s *Store) AddItem(line models.CartLine) error {
	if line.Quantity < 1 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	merged := false
	for i := range s.lines {
		if s.lines[i].ProductID == line.ProductID && s.lines[i].VariantKey == line.VariantKey {
			s.lines[i].Quantity += line.Quantity
			merged = true
			break
		}
	}
	if !merged {
		s.lines = append(s.lines, line)
	}
	change := s.changeLocked(OpAdd, line.ProductID, line.VariantKey)
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// UpdateQuantity sets a line's quantity. A quantity below 1 removes the
// line. A missing line is a no-op, not an error.
func (s *Store) UpdateQuantity(productID, variantKey string, quantity int) {
	if quantity < 1 {
		s.RemoveItem(productID, variantKey)
		return
	}

	s.mu.Lock()
	updated := false
	for i := range s.lines {
		if s.lines[i].ProductID == productID && s.lines[i].VariantKey == variantKey {
			s.lines[i].Quantity = quantity
			updated = true
			break
		}
	}
	if !updated {
		s.mu.Unlock()
		return
	}
	change := s.changeLocked(OpUpdate, productID, variantKey)
	s.mu.Unlock()

	s.notify(change)
}

// RemoveItem removes a line if present; removing a missing line is a no-op.
func (s *Store) RemoveItem(productID, variantKey string) {
	s.mu.Lock()
	removed := false
	for i := range s.lines {
		if s.lines[i].ProductID == productID && s.lines[i].VariantKey == variantKey {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		s.mu.Unlock()
		return
	}
	change := s.changeLocked(OpRemove, productID, variantKey)
	s.mu.Unlock()

	s.notify(change)
}

// Clear empties the cart and drops any applied coupon.
func (s *Store) Clear() {
	s.mu.Lock()
	s.lines = nil
	s.couponCode = ""
	change := s.changeLocked(OpClear, "", "")
	s.mu.Unlock()

	s.notify(change)
}

// ApplyCoupon stores the session's coupon code. Applying a second coupon
// replaces the first; the cart never holds more than one.
func (s *Store) ApplyCoupon(code string) {
	s.mu.Lock()
	s.couponCode = code
	change := s.changeLocked(OpApplyCoupon, "", "")
	s.mu.Unlock()

	s.notify(change)
}

// RemoveCoupon clears the applied coupon.
func (s *Store) RemoveCoupon() {
	s.mu.Lock()
	s.couponCode = ""
	change := s.changeLocked(OpRemoveCoupon, "", "")
	s.mu.Unlock()

	s.notify(change)
}

// CouponCode returns the currently applied coupon code, if any.
func (s *Store) CouponCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.couponCode
}

// Snapshot returns a deep copy of the current cart. Mutations after the
// snapshot is taken never alter it.
func (s *Store) Snapshot() models.CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]models.CartLine, len(s.lines))
	copy(lines, s.lines)

	return models.CartSnapshot{
		Lines:      lines,
		CouponCode: s.couponCode,
		TakenAt:    time.Now(),
	}
}

// ItemCount returns the total quantity across all lines.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemCountLocked()
}

// Subscribe registers a callback invoked after every mutation. The returned
// function unsubscribes it. Callbacks run synchronously but outside the
// cart lock, so they may safely call back into the store.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) changeLocked(op, productID, variantKey string) Change {
	return Change{
		Op:         op,
		ProductID:  productID,
		VariantKey: variantKey,
		LineCount:  len(s.lines),
		ItemCount:  s.itemCountLocked(),
	}
}

func (s *Store) itemCountLocked() int {
	count := 0
	for _, line := range s.lines {
		count += line.Quantity
	}
	return count
}

func (s *Store) notify(change Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}
