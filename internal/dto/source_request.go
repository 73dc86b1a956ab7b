package dto

// SourceRequest is the body of POST /api/sources.
type SourceRequest struct {
	ID           string  `json:"id"`
	Origin       string  `json:"origin"`
	LinePosition float64 `json:"line_position"`
}

// DailySummaryResponse is returned by GET /api/summary.
type DailySummaryResponse struct {
	Date    string   `json:"date"`
	Cameras []string `json:"cameras,omitempty"`
	Cars    int      `json:"cars"`
	Motos   int      `json:"motorcycles"`
	Buses   int      `json:"buses"`
	Trucks  int      `json:"trucks"`
	Total   int      `json:"total"`
}
