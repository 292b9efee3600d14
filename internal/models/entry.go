package models

// Entry is one timeline record: a post from the robot or a generated note.
// JSON field names are part of the wire contract with the web UI and the
// archive files, so they stay short.
type Entry struct {
	Timestamp int64   `json:"ts"`
	Title     string  `json:"title"`
	Text      string  `json:"text"`
	Image     *string `json:"img"` // "/img/<name>" or null when no image was attached
	Caption   string  `json:"caption"`
	Risk      float64 `json:"risk"`
	State     string  `json:"state"`
	Tag       string  `json:"tag"`
}

// JourneySnapshot is the immutable on-disk form of a timeline at reset time.
type JourneySnapshot struct {
	ArchivedAt string  `json:"archived_at"`
	JourneyID  int     `json:"journey_id"`
	Entries    []Entry `json:"entries"`
}
