package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosition_Validate(t *testing.T) {
	valid := Position{Ticket: 1, Symbol: "EURUSD", Side: SideBuy, Volume: 0.1}
	assert.NoError(t, valid.Validate())

	cases := map[string]func(p *Position){
		"ZeroTicket":  func(p *Position) { p.Ticket = 0 },
		"EmptySymbol": func(p *Position) { p.Symbol = "" },
		"BadSide":     func(p *Position) { p.Side = "HOLD" },
		"ZeroVolume":  func(p *Position) { p.Volume = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := valid
			mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestSide_Opposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
}
