// Package export renders the reviewed song list as the plain-text file
// consumed by third-party playlist-transfer tools.
package export

import (
	"strings"

	"github.com/songlift/extraction-service/internal/domain/entity"
)

// Filename is the download name offered to the user.
const Filename = "kugou_playlist_export.txt"

// ContentType is the MIME type the export is served and stored with.
const ContentType = "text/plain; charset=utf-8"

// Render produces one "{song} - {artist}" line per entry, newline-joined,
// UTF-8 encoded.
func Render(songs []entity.SongEntry) []byte {
	lines := make([]string, 0, len(songs))
	for _, s := range songs {
		lines = append(lines, s.SongName+" - "+s.ArtistName)
	}
	return []byte(strings.Join(lines, "\n"))
}
