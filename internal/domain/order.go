package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderState is the lifecycle state of a limit order.
type OrderState string

const (
	OrderStateOpen        OrderState = "open"
	OrderStateInProgress  OrderState = "in_progress"
	OrderStateFilled      OrderState = "filled"
	OrderStateCancelled   OrderState = "cancelled"
	OrderStateInvalidated OrderState = "invalidated"
)

// Order is a limit order snapshot owned by the order service.
type Order struct {
	ID           int64
	Wallet       common.Address
	SourceToken  common.Address
	DestToken    common.Address
	SourceAmount float64
	TargetPrice  float64
	State        OrderState
	CreatedAt    time.Time
}

// IsActive reports whether the order still reserves funds or may fill.
func (o Order) IsActive() bool {
	return o.State == OrderStateOpen || o.State == OrderStateInProgress
}
