// Package media manages the on-disk audio library.
//
// A Track is a validated base filename with one of the allowed extensions
// (mp3, wav, ogg). The Library lists, stores, deletes and describes tracks
// in a single flat directory; uploads are sanitised and written atomically.
// The Watcher reports changes made to the directory behind the API's back.
package media
