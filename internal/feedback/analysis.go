package feedback

import "time"

// AnalysisRecord is an immutable summarization snapshot. The newest record
// for a project is the one shown.
type AnalysisRecord struct {
	ID          string
	ProjectID   string
	PeriodStart time.Time
	PeriodEnd   time.Time
	CreatedAt   time.Time
	Payload     AnalysisPayload
}

// AnalysisPayload is the structured result returned by the summarization provider,
// plus the bucket counts recorded at analysis time.
type AnalysisPayload struct {
	Score      int        `json:"score"`
	Criticisms ThemeGroup `json:"criticisms"`
	Praises    ThemeGroup `json:"praises"`
	PoorCount  int        `json:"poorCount"`
	GoodCount  int        `json:"goodCount"`
	TotalCount int        `json:"totalCount"`
}

// ThemeGroup is either the critical or the positive half of an analysis.
type ThemeGroup struct {
	Summary     string   `json:"summary"`
	Bullets     []Theme  `json:"bullets"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Theme is one labeled recurring topic.
type Theme struct {
	Title    string   `json:"title"`
	Details  string   `json:"details"`
	Count    int      `json:"count"`
	Examples []string `json:"examples"`
}
