// Package tag validates downloaded audio and writes the minimal ID3
// frames the download stage needs.
package tag

import (
	"fmt"
	"os"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"

	"github.com/arborfm/karaopipe/src/music"
)

// Validate opens path and confirms dhowden/tag can parse it as audio,
// rejecting a download that is actually an HTML error page or a
// truncated stream.
func Validate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tag: open: %w", err)
	}
	defer f.Close()

	if _, err := tag.ReadFrom(f); err != nil {
		return fmt.Errorf("tag: not a valid audio file: %w", err)
	}
	return nil
}

// WriteMetadata embeds title/artist/album as ID3v2 frames on the MP3 at
// path.
func WriteMetadata(path string, meta music.Metadata) error {
	t, err := id3v2.Open(path, id3v2.Options{Parse: false})
	if err != nil {
		return fmt.Errorf("tag: open for writing: %w", err)
	}
	defer t.Close()

	t.SetTitle(meta.Title)
	t.SetArtist(meta.Artist)
	t.SetAlbum(meta.Album)

	if err := t.Save(); err != nil {
		return fmt.Errorf("tag: save: %w", err)
	}
	return nil
}
