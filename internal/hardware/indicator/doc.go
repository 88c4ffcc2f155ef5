// Package indicator drives the status LED.
//
// The light is on while a track plays, and blinks a Pattern to signal
// scanning or an error. GPIO drives a real pin through periph.io; None
// stands in on hosts without one.
package indicator
