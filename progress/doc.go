// Package progress keeps live counters for a single sequence run: how many
// tasks were dispatched, completed and repeated, and how many errors the
// fan-out controllers recorded.
package progress
