package moderation

// ReportEvent is published to moderation.report for every accepted report.
type ReportEvent struct {
	Target   string `json:"target"`   // moderation identity of the reported user
	Reporter string `json:"reporter"` // moderation identity of the reporter
	Reason   string `json:"reason"`
	DebateID string `json:"debate_id,omitempty"`
	Count    int    `json:"count"` // reports against target inside the window
	Ts       int64  `json:"ts"`    // unix millis
}

// BanEvent is published to moderation.ban when a report crosses the threshold.
type BanEvent struct {
	Identity string   `json:"identity"`
	Until    int64    `json:"until"` // unix millis
	Count    int      `json:"count"`
	Reasons  []string `json:"reasons"`
	Reason   string   `json:"reason"`
	Ts       int64    `json:"ts"`
}
