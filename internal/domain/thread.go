package domain

import "time"

// Thread represents a discussion thread that can be analyzed.
type Thread struct {
	SubjectID  string    `json:"subject_id"`
	Title      string    `json:"title"`
	ReplyCount int       `json:"reply_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Post represents a top-level contribution to a thread.
type Post struct {
	PostID    string    `json:"post_id"`
	SubjectID string    `json:"subject_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Contribution is a reply-like object submitted to a thread.
type Contribution struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// Participant is a named contributor available to work on runs.
type Participant struct {
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivityEntry is one item of the live activity feed.
type ActivityEntry struct {
	Seq       int64        `json:"seq"`
	Ts        int64        `json:"ts"` // Unix milliseconds
	Type      ActivityType `json:"type"`
	SubjectID string       `json:"subject_id,omitempty"`
	RunID     string       `json:"run_id,omitempty"`
	Message   string       `json:"message,omitempty"`
}
