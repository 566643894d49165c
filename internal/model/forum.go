package model

import "time"

// Thread is a discussion topic listed by the forum feed.
type Thread struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is a single message inside a thread. A zero CreatedAt means the feed
// delivered no usable timestamp.
type Post struct {
	ID        int64     `json:"id"`
	ThreadID  int64     `json:"thread_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// HasTimestamp reports whether the post can be placed in a month bucket.
func (p Post) HasTimestamp() bool {
	return !p.CreatedAt.IsZero()
}
