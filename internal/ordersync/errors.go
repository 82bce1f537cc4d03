package ordersync

import "errors"

var (
	errReadOnly     = errors.New("ordersync: no CRUD client configured")
	errUnknownOrder = errors.New("ordersync: unknown order")
)
