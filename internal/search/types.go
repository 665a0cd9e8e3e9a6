// Package search parses the metadata-indexing service's JSON responses
// into core.DownloadJob values ready to hand to the Engine.
package search

// Result is one entry of the search service's JSON response, matching
// the recognized fields from the metadata schema: category,
// springname, filename, a mirror pool, and optional version/md5/size/
// depends metadata.
type Result struct {
	Category   string   `json:"category"`
	SpringName string   `json:"springname"`
	Filename   string   `json:"filename"`
	Mirrors    []string `json:"mirrors"`
	Version    string   `json:"version,omitempty"`
	MD5        string   `json:"md5,omitempty"`
	Size       int64    `json:"size,omitempty"`
	Depends    []string `json:"depends,omitempty"`
}
