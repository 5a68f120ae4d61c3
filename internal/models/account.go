package models

// Account holds the live metrics of the trading account.
type Account struct {
	Login       string  `json:"login"`
	Broker      string  `json:"broker"`
	Server      string  `json:"server"`
	Currency    string  `json:"currency"`
	Leverage    int     `json:"leverage"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"freeMargin"`
	MarginLevel float64 `json:"marginLevel"`
	Profit      float64 `json:"profit"`
}
