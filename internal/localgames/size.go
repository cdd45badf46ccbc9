package localgames

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"golang.org/x/text/encoding/unicode"

	"github.com/mmcdole/originbridge/internal/domain"
)

const mapCRCFile = "map.crc"

var sizeToken = regexp.MustCompile(`size=(\d+)`)

// ParseMapCRCTotalSize sums every size=<n> entry of a UTF-16LE map.crc file
func ParseMapCRCTotalSize(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	text, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	var total int64
	for _, m := range sizeToken.FindAllSubmatch(text, -1) {
		n, err := strconv.ParseInt(string(m[1]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad size entry %q in %s: %w", m[1], path, err)
		}
		total += n
	}
	return total, nil
}

// LocalSize returns the installed size of gameID from the map.crc next to its manifest
func (t *Tracker) LocalSize(gameID string) (int64, error) {
	dir, ok := t.ManifestDir(gameID)
	if !ok {
		return 0, fmt.Errorf("no manifest for %s: %w", gameID, domain.ErrNotFound)
	}

	size, err := ParseMapCRCTotalSize(filepath.Join(dir, mapCRCFile))
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("no %s for %s: %w", mapCRCFile, gameID, domain.ErrNotFound)
	}
	return size, err
}
