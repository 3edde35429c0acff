package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle as reported by the exchange.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// OrderRecord is a historical order as reported by the exchange.
type OrderRecord struct {
	OrderID          string      `json:"order_id"`
	Symbol           string      `json:"symbol"`
	Side             OrderSide   `json:"side"`
	Status           OrderStatus `json:"status"`
	Price            float64     `json:"price"`
	ExecutedQuantity float64     `json:"executed_quantity"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Executed reports whether any quantity of the order was filled.
func (o OrderRecord) Executed() bool {
	return o.ExecutedQuantity > 0
}
