// Package workshops owns workshop records: the roster of registered
// addresses, the append-only email sequence and the routing secret used to
// match inbound mail to a workshop without exposing its public id.
package workshops
