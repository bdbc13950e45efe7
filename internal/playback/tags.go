package playback

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// ReadTrack reads the tags of a local audio file. Files without readable
// tags still produce a track named after the file.
func ReadTrack(path string) (Track, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Track{}, fmt.Errorf("failed to resolve path: %w", err)
	}

	track := Track{
		URI:  (&url.URL{Scheme: "file", Path: abs}).String(),
		Name: strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
	}

	file, err := os.Open(abs)
	if err != nil {
		return Track{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	tags, err := tag.ReadFrom(file)
	if err != nil {
		// No tag block is not fatal, the file name is enough to show.
		return track, nil
	}

	if title := strings.TrimSpace(tags.Title()); title != "" {
		track.Name = title
	}
	track.Artists = splitArtists(tags.Artist())
	track.Album = strings.TrimSpace(tags.Album())
	track.TrackNo, _ = tags.Track()
	return track, nil
}

// LoadTracks reads every path into a tracklist, skipping unreadable files.
func LoadTracks(paths []string) ([]Track, []error) {
	tracks := make([]Track, 0, len(paths))
	var errs []error
	for _, p := range paths {
		t, err := ReadTrack(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks, errs
}

// splitArtists parses a tag value holding one or more artists
func splitArtists(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	for _, delim := range []string{";", "/", " feat. ", " ft. ", " & "} {
		if !strings.Contains(s, delim) {
			continue
		}
		var out []string
		for _, name := range strings.Split(s, delim) {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{strings.TrimSpace(s)}
}
