package models

// ReportDocument is the rendered report for one student
type ReportDocument struct {
	USN       string `json:"usn"`
	Path      string `json:"path"`
	PageCount int    `json:"page_count"`
	Size      int64  `json:"size"`
}

// RasterImage is one rasterized report page
type RasterImage struct {
	USN    string `json:"usn"`
	Page   int    `json:"page"` // 1-based
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}
