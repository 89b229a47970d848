package models

type Task struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Reward     int64  `json:"reward"`
	Commission int64  `json:"commission,omitempty"`
	Source     string `json:"source,omitempty"`
	Category   string `json:"category,omitempty"`
	TargetURL  string `json:"target_url,omitempty"`
	AutoCredit bool   `json:"auto_credit,omitempty"`
	// Limit caps completions; Done counts them.
	Limit     int   `json:"limit,omitempty"`
	Done      int   `json:"done"`
	CreatedTS int64 `json:"created_ts,omitempty"`
}
