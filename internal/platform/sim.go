package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hedge-sync-go/internal/models"
)

// contractSize converts price distance times lots into account currency.
const contractSize = 100000

// Sim is an in-memory broker account. Every mutation pushes a Transaction.
type Sim struct {
	mu        sync.Mutex
	name      string
	account   models.Account
	positions map[int64]models.Position
	next      int64
	raw       []models.Position
	fail      error
	now       func() time.Time
	tx        chan Transaction
	closed    bool
}

var _ Platform = (*Sim)(nil)

// NewSim creates a simulated account with the given starting state.
func NewSim(account models.Account, name string) *Sim {
	if name == "" {
		name = "SIM"
	}
	if account.Equity == 0 {
		account.Equity = account.Balance
	}
	return &Sim{
		name:      name,
		account:   account,
		positions: make(map[int64]models.Position),
		next:      1000,
		now:       time.Now,
		tx:        make(chan Transaction, 64),
	}
}

// SetClock replaces the time source.
func (s *Sim) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Name implements Platform.
func (s *Sim) Name() string { return s.name }

// Transactions implements Platform.
func (s *Sim) Transactions() <-chan Transaction { return s.tx }

// Close implements Platform.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.tx)
	}
	return nil
}

// Account implements Platform.
func (s *Sim) Account(ctx context.Context) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return models.Account{}, s.fail
	}
	return s.accountLocked(), nil
}

// Positions implements Platform. Ordering is by ticket.
func (s *Sim) Positions(ctx context.Context) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]models.Position, 0, len(s.positions)+len(s.raw))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return append(out, s.raw...), nil
}

// Fail makes reads return err until called with nil.
func (s *Sim) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// InjectRaw adds records to every listing as-is, e.g. malformed ones.
// Passing nothing clears them.
func (s *Sim) InjectRaw(positions ...models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = positions
}

// Open creates a position and returns it.
func (s *Sim) Open(symbol string, side models.Side, volume, price, sl, tp float64) models.Position {
	s.mu.Lock()
	s.next++
	p := models.Position{
		Ticket:       s.next,
		Symbol:       symbol,
		Side:         side,
		Volume:       volume,
		OpenPrice:    price,
		CurrentPrice: price,
		StopLoss:     sl,
		TakeProfit:   tp,
		OpenTime:     s.now().UTC(),
	}
	s.positions[p.Ticket] = p
	s.mu.Unlock()

	s.emit(Transaction{Kind: TxOpen, Ticket: p.Ticket, At: p.OpenTime})
	return p
}

// ClosePosition removes a position at price and books the result into the balance.
func (s *Sim) ClosePosition(ticket int64, price float64) (Transaction, error) {
	s.mu.Lock()
	p, ok := s.positions[ticket]
	if !ok {
		s.mu.Unlock()
		return Transaction{}, fmt.Errorf("ticket %d not found", ticket)
	}
	p = mark(p, price)
	delete(s.positions, ticket)
	s.account.Balance += p.NetProfit()
	tx := Transaction{Kind: TxClose, Ticket: ticket, At: s.now().UTC(), ClosePrice: price, Profit: p.NetProfit(), Exact: true}
	// Queued under the lock so no listing can miss the position without the
	// closing deal already being visible.
	s.emitLocked(tx)
	s.mu.Unlock()
	return tx, nil
}

// Modify changes the protective levels of a position.
func (s *Sim) Modify(ticket int64, sl, tp float64) error {
	return s.update(ticket, func(p *models.Position) {
		p.StopLoss = sl
		p.TakeProfit = tp
	})
}

// SetVolume changes the volume of a position, as a partial close would.
func (s *Sim) SetVolume(ticket int64, volume float64) error {
	return s.update(ticket, func(p *models.Position) {
		p.Volume = volume
	})
}

// Reverse flips the direction of a position while keeping its ticket.
func (s *Sim) Reverse(ticket int64) error {
	return s.update(ticket, func(p *models.Position) {
		p.Side = p.Side.Opposite()
		p.OpenPrice = p.CurrentPrice
		p.Profit = 0
	})
}

// SetPrice moves the market for symbol and revalues its positions.
// No transaction is emitted; price movement is not a trade.
func (s *Sim) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, p := range s.positions {
		if p.Symbol == symbol {
			s.positions[t] = mark(p, price)
		}
	}
}

// SetBalance overrides the account balance, e.g. for a deposit.
func (s *Sim) SetBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.Balance = balance
}

func (s *Sim) update(ticket int64, fn func(p *models.Position)) error {
	s.mu.Lock()
	p, ok := s.positions[ticket]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("ticket %d not found", ticket)
	}
	fn(&p)
	s.positions[ticket] = p
	at := s.now().UTC()
	s.mu.Unlock()

	s.emit(Transaction{Kind: TxModify, Ticket: ticket, At: at})
	return nil
}

// emit never blocks; a full channel only delays detection to the next poll.
func (s *Sim) emit(tx Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(tx)
}

func (s *Sim) emitLocked(tx Transaction) {
	if s.closed {
		return
	}
	select {
	case s.tx <- tx:
	default:
	}
}

func (s *Sim) accountLocked() models.Account {
	acc := s.account
	acc.Profit = 0
	for _, p := range s.positions {
		acc.Profit += p.NetProfit()
	}
	acc.Equity = acc.Balance + acc.Profit
	acc.FreeMargin = acc.Equity - acc.Margin
	return acc
}

func mark(p models.Position, price float64) models.Position {
	dir := 1.0
	if p.Side == models.SideSell {
		dir = -1
	}
	p.CurrentPrice = price
	p.Profit = (price - p.OpenPrice) * dir * p.Volume * contractSize
	return p
}
