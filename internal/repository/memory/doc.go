// Package memory provides in-process implementations of the user and
// workshop repositories. Each store guards its map with one mutex, so every
// repository method is a single atomic critical section. Returned entities
// are deep copies; callers can never mutate stored state.
package memory
