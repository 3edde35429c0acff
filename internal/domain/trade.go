package domain

import "time"

// TradeRecord is a fill the local store attributes to a position.
type TradeRecord struct {
	ID          string      `json:"id"`
	PositionID  string      `json:"position_id"`
	WalletID    string      `json:"wallet_id"`
	TradingMode TradingMode `json:"trading_mode"`
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	Quantity    float64     `json:"quantity"`
	Price       float64     `json:"price"`
	ExecutedAt  time.Time   `json:"executed_at"`
}

// SignedQuantity returns the quantity with sells negated.
func (t TradeRecord) SignedQuantity() float64 {
	if t.Side == OrderSideSell {
		return -t.Quantity
	}
	return t.Quantity
}
