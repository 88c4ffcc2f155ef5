// Package audio wraps the external programs that make sound.
//
// Player starts the music player for a library track, Chimes plays short
// feedback sounds (boot, scanning, registered, play, error, delete), and
// Mixer sets the output volume.
//
// Volume levels exposed to users run 0 to 100. RemapVolume maps them onto
// the usable part of the mixer range; a given level always produces the
// same mixer setting.
package audio
