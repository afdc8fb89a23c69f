package entity

import "strings"

// Sentinels substituted when the inference response leaves a field empty.
const (
	UnknownSong   = "Unknown Song"
	UnknownArtist = "Unknown Artist"
)

// SongEntry is one row of the extracted playlist. Entries have no identity
// beyond their position in the job's song list; review edits and deletes
// address them positionally.
type SongEntry struct {
	SongName   string `json:"song_name"`
	ArtistName string `json:"artist_name"`
}

// DedupKey is the case-insensitive identity used to collapse duplicates
// that arise from overlapping video frames.
func (s SongEntry) DedupKey() string {
	return strings.ToLower(s.SongName) + "\x00" + strings.ToLower(s.ArtistName)
}
