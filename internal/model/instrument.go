package model

// Instrument identifies one tradeable instrument in the session watchlist.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Token    uint32 `json:"token"`     // broker websocket subscription token
	TickSize int64  `json:"tick_size"` // paise, 0 when unknown
}

// Key returns the instrument key: "exchange:symbol".
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.Symbol
}
