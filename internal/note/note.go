// Package note defines the record type moved through every stage of the
// pipeline: crawl, promotion, filtering and archival.
package note

import "time"

// Record is one note as stored in a dataset index. ImageRefs are paths
// relative to the store root (forward slashes) and their order is the
// display order on the platform.
type Record struct {
	NoteID    string    `json:"note_id"`
	Title     string    `json:"title"`
	Caption   string    `json:"caption"`
	Tags      []string  `json:"tags,omitempty"`
	ImageRefs []string  `json:"image_refs"`
	FetchedAt time.Time `json:"fetched_at"`
	User      *User     `json:"user,omitempty"`
	Stats     *Stats    `json:"stats,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
}

// User identifies the note's author.
type User struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// Stats holds interaction counts. The platform reports them as strings
// ("1.2万" and the like), so they are kept verbatim.
type Stats struct {
	Liked     string `json:"liked_count"`
	Collected string `json:"collected_count"`
	Comments  string `json:"comment_count"`
	Shares    string `json:"share_count"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	out.Tags = append([]string(nil), r.Tags...)
	out.ImageRefs = append([]string(nil), r.ImageRefs...)
	if r.User != nil {
		u := *r.User
		out.User = &u
	}
	if r.Stats != nil {
		s := *r.Stats
		out.Stats = &s
	}
	return &out
}

// Age returns how long ago the record was fetched, relative to now.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.FetchedAt)
}
