package xhs

import "encoding/json"

// envelope is the common API response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
}

// SearchItem is one entry of a search result page. Only note entries
// carry an xsec token; other model types (ads, queries) are skipped by
// callers.
type SearchItem struct {
	ID        string `json:"id"`
	ModelType string `json:"model_type"`
	XsecToken string `json:"xsec_token"`
}

// SearchPage is one page of search results.
type SearchPage struct {
	Items   []SearchItem `json:"items"`
	HasMore bool         `json:"has_more"`
}

// feedData is the detail endpoint payload.
type feedData struct {
	Items []feedItem `json:"items"`
}

type feedItem struct {
	ID       string   `json:"id"`
	NoteCard NoteCard `json:"note_card"`
}

// NoteCard is the full note detail as returned by the feed endpoint.
type NoteCard struct {
	NoteID         string       `json:"note_id"`
	Type           string       `json:"type"`
	Title          string       `json:"title"`
	Desc           string       `json:"desc"`
	Time           int64        `json:"time"`
	LastUpdateTime int64        `json:"last_update_time"`
	IPLocation     string       `json:"ip_location"`
	ImageList      []ImageInfo  `json:"image_list"`
	TagList        []Tag        `json:"tag_list"`
	User           UserInfo     `json:"user"`
	InteractInfo   InteractInfo `json:"interact_info"`
}

// ImageInfo describes one image of a note with its candidate URLs.
type ImageInfo struct {
	URL        string `json:"url"`
	URLDefault string `json:"url_default"`
	URLPre     string `json:"url_pre"`
}

// BestURL picks the preferred download URL: the plain url first, then
// the default-quality variant, then the preview.
func (i ImageInfo) BestURL() string {
	if i.URL != "" {
		return i.URL
	}
	if i.URLDefault != "" {
		return i.URLDefault
	}
	return i.URLPre
}

// Tag is a topic tag attached to a note.
type Tag struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// UserInfo identifies a note's author.
type UserInfo struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// InteractInfo carries engagement counts (verbatim strings).
type InteractInfo struct {
	LikedCount     string `json:"liked_count"`
	CollectedCount string `json:"collected_count"`
	CommentCount   string `json:"comment_count"`
	ShareCount     string `json:"share_count"`
}

// searchRequest is the search endpoint body.
type searchRequest struct {
	Keyword  string `json:"keyword"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	SearchID string `json:"search_id"`
	Sort     string `json:"sort"`
	NoteType int    `json:"note_type"`
}

// feedRequest is the detail endpoint body.
type feedRequest struct {
	SourceNoteID string    `json:"source_note_id"`
	ImageFormats []string  `json:"image_formats"`
	Extra        feedExtra `json:"extra"`
	XsecSource   string    `json:"xsec_source"`
	XsecToken    string    `json:"xsec_token"`
}

type feedExtra struct {
	NeedBodyTopic string `json:"need_body_topic"`
}
