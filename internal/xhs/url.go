package xhs

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/yfan/redsift/internal/util"
)

var noteIDPattern = regexp.MustCompile(`[0-9a-f]{24}`)

// ParseNoteURL extracts the note id and xsec token from a note page
// URL. Supported paths are /explore/<id> and /discovery/item/<id>;
// anything else falls back to matching the 24-hex note id form. The
// xsec token comes from the query string and may be absent.
func ParseNoteURL(raw string) (noteID, xsecToken string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("xhs: parse note url %q: %w", raw, err)
	}

	path := strings.Trim(u.Path, "/")
	switch {
	case strings.HasPrefix(path, "explore/"):
		noteID = strings.TrimPrefix(path, "explore/")
	case strings.HasPrefix(path, "discovery/item/"):
		noteID = strings.TrimPrefix(path, "discovery/item/")
	default:
		noteID = noteIDPattern.FindString(raw)
	}
	if i := strings.IndexByte(noteID, '/'); i >= 0 {
		noteID = noteID[:i]
	}
	if noteID == "" {
		return "", "", fmt.Errorf("xhs: no note id in %q: %w", raw, util.ErrInvalidConfig)
	}
	return noteID, u.Query().Get("xsec_token"), nil
}
