package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCandidate = errors.New("invalid cart candidate")
	ErrInvalidState     = errors.New("invalid cart state")
)

// CartLine is one product's presence in the cart. Title, Price and Thumbnail
// are snapshots taken when the line was first added.
type CartLine struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Thumbnail string          `json:"thumbnail"`
	Quantity  int             `json:"quantity"`
}

// Subtotal returns price * quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Candidate carries the snapshot fields of a product being added to the cart.
type Candidate struct {
	ID        int64
	Title     string
	Price     decimal.Decimal
	Thumbnail string
}

func (c Candidate) Validate() error {
	if c.ID <= 0 {
		return fmt.Errorf("%w: id must be greater than 0", ErrInvalidCandidate)
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidCandidate)
	}
	if c.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidCandidate)
	}
	return nil
}

// CartState is an immutable, ordered set of cart lines. Transitions return a
// new value and leave the receiver untouched.
type CartState struct {
	lines []CartLine
}

func Empty() CartState {
	return CartState{lines: []CartLine{}}
}

// NewCartState builds a state from lines in the given order. It does not
// check invariants; use Validate for untrusted input.
func NewCartState(lines ...CartLine) CartState {
	return CartState{lines: slices.Clone(lines)}
}

// Lines returns a copy of the lines in insertion order.
func (s CartState) Lines() []CartLine {
	return slices.Clone(s.lines)
}

func (s CartState) Len() int {
	return len(s.lines)
}

func (s CartState) IsEmpty() bool {
	return len(s.lines) == 0
}

// Line returns the line for id, if present.
func (s CartState) Line(id int64) (CartLine, bool) {
	if i := s.index(id); i >= 0 {
		return s.lines[i], true
	}
	return CartLine{}, false
}

func (s CartState) index(id int64) int {
	return slices.IndexFunc(s.lines, func(l CartLine) bool { return l.ID == id })
}

// Add increments the quantity of an existing line, leaving its snapshot
// fields as they are, or appends a new line with quantity 1.
func (s CartState) Add(c Candidate) CartState {
	if i := s.index(c.ID); i >= 0 {
		next := s.Lines()
		next[i].Quantity++
		return CartState{lines: next}
	}
	next := make([]CartLine, 0, len(s.lines)+1)
	next = append(next, s.lines...)
	next = append(next, CartLine{
		ID:        c.ID,
		Title:     c.Title,
		Price:     c.Price,
		Thumbnail: c.Thumbnail,
		Quantity:  1,
	})
	return CartState{lines: next}
}

// Remove drops the line for id. Removing an absent id returns an equal state.
func (s CartState) Remove(id int64) CartState {
	next := make([]CartLine, 0, len(s.lines))
	for _, l := range s.lines {
		if l.ID != id {
			next = append(next, l)
		}
	}
	return CartState{lines: next}
}

// Increment adds one unit to an existing line. ok is false if id is absent.
func (s CartState) Increment(id int64) (next CartState, ok bool) {
	l, found := s.Line(id)
	if !found {
		return s, false
	}
	return s.Add(Candidate{ID: l.ID, Title: l.Title, Price: l.Price, Thumbnail: l.Thumbnail}), true
}

// Decrement removes one unit from a line; a line at quantity 1 is removed.
// ok is false if id is absent.
func (s CartState) Decrement(id int64) (next CartState, ok bool) {
	i := s.index(id)
	if i < 0 {
		return s, false
	}
	if s.lines[i].Quantity <= 1 {
		return s.Remove(id), true
	}
	lines := s.Lines()
	lines[i].Quantity--
	return CartState{lines: lines}, true
}

func (s CartState) TotalItemCount() int {
	total := 0
	for _, l := range s.lines {
		total += l.Quantity
	}
	return total
}

func (s CartState) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Validate checks the id uniqueness and positive quantity invariants.
func (s CartState) Validate() error {
	seen := make(map[int64]struct{}, len(s.lines))
	for _, l := range s.lines {
		if l.ID <= 0 {
			return fmt.Errorf("%w: line id %d", ErrInvalidState, l.ID)
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("%w: duplicate line id %d", ErrInvalidState, l.ID)
		}
		if l.Quantity < 1 {
			return fmt.Errorf("%w: line %d has quantity %d", ErrInvalidState, l.ID, l.Quantity)
		}
		seen[l.ID] = struct{}{}
	}
	return nil
}

// Equal compares lines in order, comparing prices numerically.
func (s CartState) Equal(o CartState) bool {
	return slices.EqualFunc(s.lines, o.lines, func(a, b CartLine) bool {
		return a.ID == b.ID &&
			a.Title == b.Title &&
			a.Price.Equal(b.Price) &&
			a.Thumbnail == b.Thumbnail &&
			a.Quantity == b.Quantity
	})
}
