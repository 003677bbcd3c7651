// Package distribution is the delivery engine: it decides which workshop
// emails a user still has to receive and fans newly arrived mail out to a
// workshop's roster.
//
// The engine holds no state of its own. Every write goes through one atomic
// repository operation, and mail is sent only between those operations,
// never inside one. Delivery is recorded per user, independent of current
// membership, so leaving and rejoining a workshop never repeats mail.
package distribution
