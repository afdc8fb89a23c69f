package pipeline

import (
	"strings"

	"github.com/songlift/extraction-service/internal/domain/entity"
)

const fieldDelimiter = "|||"

// ParseSongList parses the inference service's plain-text response. Lines
// without the delimiter are dropped silently rather than failing the
// batch; empty fields get sentinel values. Duplicates are collapsed
// case-insensitively, first occurrence wins: the prompt asks the service
// to dedup, but its compliance is not guaranteed.
func ParseSongList(raw string) []entity.SongEntry {
	var songs []entity.SongEntry
	seen := make(map[string]struct{})

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, fieldDelimiter) {
			continue
		}

		// Only the first two fields count; anything after a stray extra
		// delimiter is noise from the model.
		parts := strings.Split(line, fieldDelimiter)
		song := entity.SongEntry{
			SongName:   strings.TrimSpace(parts[0]),
			ArtistName: strings.TrimSpace(parts[1]),
		}
		if song.SongName == "" {
			song.SongName = entity.UnknownSong
		}
		if song.ArtistName == "" {
			song.ArtistName = entity.UnknownArtist
		}

		key := song.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		songs = append(songs, song)
	}

	return songs
}
