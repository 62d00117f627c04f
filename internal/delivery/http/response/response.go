package response

// ProgressResponse is the body of GET /api/progress.
type ProgressResponse struct {
	State        string `json:"state"`
	PageCount    int    `json:"page_count"`
	Downloaded   int    `json:"downloaded"`
	Discovered   int    `json:"discovered"`
	Remaining    int    `json:"remaining"`
	DeadLettered int    `json:"dead_lettered"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
