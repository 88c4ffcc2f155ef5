// Package reader provides access to the proximity tag reader.
//
// The reader is a single physical resource. A Device hands out at most one
// Session at a time; a second Open fails with ErrSessionBusy until the
// first session is closed. Registration and the playback loop both read
// tags, so the control plane stops the loop before registering.
//
// A Session offers two ways to read:
//   - Read blocks until a tag is presented or ctx ends (registration)
//   - Poll returns immediately, ok=false when no tag is present (playback)
//
// Drivers:
//   - MFRC522: RC522 boards on SPI through periph.io
//   - Line: newline-delimited IDs from a serial device or FIFO
//
// Example usage:
//
//	dev, err := reader.New(cfg.Hardware.Reader)
//	if err != nil {
//	    return err
//	}
//	s, err := dev.Open()
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	id, err := s.Read(ctx)
package reader
