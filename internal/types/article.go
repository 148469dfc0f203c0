package types

import (
	"encoding/json"
	"unicode/utf8"
)

// ArticleRecord is one collected article. It starts as a skeleton (URL,
// title, sequence number) and is enriched in place once its page is read.
type ArticleRecord struct {
	// URL is the unique key of the record and never changes.
	URL string `json:"url" bson:"url"`

	// Title is stored untruncated.
	Title string `json:"title" bson:"title"`

	// SequenceNumber is assigned once, in first-seen order.
	SequenceNumber int `json:"sequence_number" bson:"sequence_number"`

	// PostTime is an RFC 3339 timestamp, or empty when unknown.
	PostTime string `json:"post_time" bson:"post_time"`

	Likes        int      `json:"likes" bson:"likes"`
	Boos         int      `json:"boos" bson:"boos"`
	CommentCount int      `json:"comment_count" bson:"comment_count"`
	Comments     []string `json:"comments" bson:"comments"`

	// ContentFetched becomes true once enrichment completed. It never reverts.
	ContentFetched bool `json:"content_fetched" bson:"content_fetched"`
}

// NewSkeleton creates an unenriched record for a newly discovered entry.
func NewSkeleton(entry ListEntry, seq int) *ArticleRecord {
	return &ArticleRecord{
		URL:            entry.URL,
		Title:          entry.Title,
		SequenceNumber: seq,
		Comments:       []string{},
	}
}

// Clone returns a deep copy of the record.
func (r *ArticleRecord) Clone() *ArticleRecord {
	c := *r
	c.Comments = append(make([]string, 0, len(r.Comments)), r.Comments...)
	return &c
}

// Apply merges enriched detail fields into the record and marks it fetched.
// Identity fields (URL, title, sequence number) are left as they are.
func (r *ArticleRecord) Apply(d *ArticleDetail) {
	r.PostTime = d.PostTime.Or("")
	r.Likes = d.Likes.Or(0)
	r.Boos = d.Boos.Or(0)
	r.CommentCount = d.CommentCount.Or(len(d.Comments))
	r.Comments = append(make([]string, 0, len(d.Comments)), d.Comments...)
	r.ContentFetched = true
}

// ShortTitle truncates the title for log lines.
func (r *ArticleRecord) ShortTitle(n int) string {
	if utf8.RuneCountInString(r.Title) <= n {
		return r.Title
	}
	runes := []rune(r.Title)
	return string(runes[:n]) + "..."
}

// legacyRecord accepts the key names used by older progress files.
type legacyRecord struct {
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	SequenceNumber *int     `json:"sequence_number"`
	ArticleNumber  *int     `json:"article_number"`
	PostTime       string   `json:"post_time"`
	Likes          int      `json:"likes"`
	Boos           int      `json:"boos"`
	CommentCount   *int     `json:"comment_count"`
	Responses      *int     `json:"responses"`
	Comments       []string `json:"comments"`
	ResponsesText  []string `json:"responses_content"`
	ContentFetched bool     `json:"content_fetched"`
}

// UnmarshalJSON decodes both the current layout and the older
// article_number/responses/responses_content layout.
func (r *ArticleRecord) UnmarshalJSON(data []byte) error {
	var l legacyRecord
	if err := json.Unmarshal(data, &l); err != nil {
		return err
	}
	*r = ArticleRecord{
		URL:            l.URL,
		Title:          l.Title,
		PostTime:       l.PostTime,
		Likes:          l.Likes,
		Boos:           l.Boos,
		Comments:       l.Comments,
		ContentFetched: l.ContentFetched,
	}
	switch {
	case l.SequenceNumber != nil:
		r.SequenceNumber = *l.SequenceNumber
	case l.ArticleNumber != nil:
		r.SequenceNumber = *l.ArticleNumber
	}
	switch {
	case l.CommentCount != nil:
		r.CommentCount = *l.CommentCount
	case l.Responses != nil:
		r.CommentCount = *l.Responses
	}
	if r.Comments == nil {
		r.Comments = l.ResponsesText
	}
	if r.Comments == nil {
		r.Comments = []string{}
	}
	return nil
}

// ListEntry is one article link read from a listing page.
type ListEntry struct {
	URL   string
	Title string
}

// ArticleDetail holds the fields read from an article page. Optional fields
// that could not be found are left absent and named in Missing.
type ArticleDetail struct {
	URL          string
	PostTime     Field[string]
	Likes        Field[int]
	Boos         Field[int]
	CommentCount Field[int]
	Comments     []string

	// Revealed reports whether the full comment list was shown before reading.
	Revealed bool
	Missing  []string
}

// Miss records an optional field that defaulted.
func (d *ArticleDetail) Miss(field string) {
	d.Missing = append(d.Missing, field)
}
