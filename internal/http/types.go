package http

// AnswerRequest is the request body for POST /api/v1/answer.
type AnswerRequest struct {
	Query              string `json:"query"`
	TopK               int    `json:"top_k,omitempty"`
	IncludeDiagnostics bool   `json:"include_diagnostics,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
	Store   string `json:"store"`
}
