package tracker

import (
	"sort"

	"hedge-sync-go/internal/models"
)

// Kind is the lifecycle transition a Delta describes.
type Kind string

const (
	Opened   Kind = "OPENED"
	Closed   Kind = "CLOSED"
	Reversed Kind = "REVERSED"
	Modified Kind = "MODIFIED"
)

// Delta is one change between two consecutive position-set observations.
type Delta struct {
	Kind   Kind
	Ticket int64
	// Position is the current record, or the last known one for Closed.
	Position models.Position
	// Previous is the record before the change. Unset for Opened.
	Previous models.Position
	// RealizedProfit is set for Closed and Reversed.
	RealizedProfit float64
	ClosePrice     float64
}

// Set is a position set keyed by ticket.
type Set map[int64]models.Position

// NewSet builds a set from a platform listing. Records that fail validation are
// left out; the tickets of those that still carry a usable ticket are returned so
// callers can tell "malformed" from "gone".
func NewSet(positions []models.Position) (Set, []int64, []error) {
	set := make(Set, len(positions))
	var malformed []int64
	var errs []error
	for _, p := range positions {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			if p.Ticket > 0 {
				malformed = append(malformed, p.Ticket)
			}
			continue
		}
		set[p.Ticket] = p
	}
	return set, malformed, errs
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Sorted returns the positions ordered by ticket.
func (s Set) Sorted() []models.Position {
	out := make([]models.Position, 0, len(s))
	for _, p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Diff computes the deltas that turn previous into current. The result is
// ordered closes, reversals, modifications, opens, each by ascending ticket.
// Price and floating profit changes alone produce no delta.
func Diff(previous, current Set) []Delta {
	var closed, reversed, modified, opened []Delta

	for ticket, prev := range previous {
		cur, ok := current[ticket]
		if !ok {
			closed = append(closed, Delta{
				Kind:           Closed,
				Ticket:         ticket,
				Position:       prev,
				Previous:       prev,
				RealizedProfit: prev.NetProfit(),
				ClosePrice:     prev.CurrentPrice,
			})
			continue
		}
		switch {
		case cur.Side != prev.Side:
			reversed = append(reversed, Delta{
				Kind:           Reversed,
				Ticket:         ticket,
				Position:       cur,
				Previous:       prev,
				RealizedProfit: prev.NetProfit(),
				ClosePrice:     cur.OpenPrice,
			})
		case cur.StopLoss != prev.StopLoss || cur.TakeProfit != prev.TakeProfit || cur.Volume != prev.Volume:
			modified = append(modified, Delta{
				Kind:     Modified,
				Ticket:   ticket,
				Position: cur,
				Previous: prev,
			})
		}
	}
	for ticket, cur := range current {
		if _, ok := previous[ticket]; !ok {
			opened = append(opened, Delta{Kind: Opened, Ticket: ticket, Position: cur})
		}
	}

	out := make([]Delta, 0, len(closed)+len(reversed)+len(modified)+len(opened))
	for _, group := range [][]Delta{closed, reversed, modified, opened} {
		sort.Slice(group, func(i, j int) bool { return group[i].Ticket < group[j].Ticket })
		out = append(out, group...)
	}
	return out
}

// Apply replays deltas onto a copy of set, the way a subscriber rebuilds state
// from events.
func Apply(set Set, deltas []Delta) Set {
	out := set.Clone()
	for _, d := range deltas {
		switch d.Kind {
		case Closed:
			delete(out, d.Ticket)
		default:
			out[d.Ticket] = d.Position
		}
	}
	return out
}
