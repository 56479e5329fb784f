package model

import "time"

// LinkCheck is the outcome of checking that one cited or embedded link
// resolves
type LinkCheck struct {
	URL          string     `json:"url"`
	StatusCode   int        `json:"status_code,omitempty"`
	Accessible   bool       `json:"accessible"`
	Dead         bool       `json:"dead"`                 // 404/410 or unreachable
	Disallowed   bool       `json:"disallowed,omitempty"` // robots.txt forbids fetching; not checked
	RedirectURL  string     `json:"redirect_url,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	Stale        bool       `json:"stale,omitempty"` // Last-Modified older than a year
	Error        string     `json:"error,omitempty"`
}
