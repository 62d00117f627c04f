package entity

import "time"

// RenderedPage is the final DOM of a page as returned by the renderer.
type RenderedPage struct {
	URL        string
	HTML       string
	StatusCode int
	FetchedAt  time.Time
}
