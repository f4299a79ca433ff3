package dto

// AuditSearchQuery bounds an audit trail search. Days counts back from now;
// the remaining filters are applied after the time-window scan.
type AuditSearchQuery struct {
	Days   int    `form:"days" validate:"omitempty,min=1,max=90"`
	Event  string `form:"event"`
	Actor  string `form:"actor"`
	Status string `form:"status" validate:"omitempty,oneof=success failed blocked"`
}

// AuditStatistics aggregates a search window.
type AuditStatistics struct {
	Total       int            `json:"total"`
	ByEvent     map[string]int `json:"by_event"`
	ByStatus    map[string]int `json:"by_status"`
	ByMode      map[string]int `json:"by_mode"`
	TotalSize   int64          `json:"total_size"`
	AverageSize float64        `json:"average_size"`
}
