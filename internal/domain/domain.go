package domain

import "time"

// TimeLayout is a fixed-width UTC layout so stored timestamps sort lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime, falling back to RFC3339.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Lead pipeline statuses.
const (
	LeadStatusNew       = "new"
	LeadStatusVetted    = "vetted"
	LeadStatusRejected  = "rejected"
	LeadStatusEnriching = "enriching"
	LeadStatusEnriched  = "enriched"
	LeadStatusContacted = "contacted"
	LeadStatusClosed    = "closed"
)

// Vetting decisions.
const (
	VettingPending  = "pending"
	VettingApproved = "approved"
	VettingRejected = "rejected"
)

// Execution log statuses. Running is the only non-terminal one.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusPartial = "partial"
)

// Project delivery stages.
const (
	ProjectStageDiscovery = "discovery"
	ProjectStageBuild     = "build"
	ProjectStageLaunch    = "launch"
)

var leadStatuses = []string{
	LeadStatusNew, LeadStatusVetted, LeadStatusRejected, LeadStatusEnriching,
	LeadStatusEnriched, LeadStatusContacted, LeadStatusClosed,
}

var vettingStatuses = []string{VettingPending, VettingApproved, VettingRejected}

var projectStages = []string{ProjectStageDiscovery, ProjectStageBuild, ProjectStageLaunch}

// LeadStatuses returns every pipeline status in lifecycle order.
func LeadStatuses() []string { return append([]string(nil), leadStatuses...) }

func ValidLeadStatus(s string) bool { return contains(leadStatuses, s) }

func ValidVettingStatus(s string) bool { return contains(vettingStatuses, s) }

func ValidProjectStage(s string) bool { return contains(projectStages, s) }

// TerminalRunStatus reports whether s may close an execution log.
func TerminalRunStatus(s string) bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusPartial
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

type Lead struct {
	ID              string         `json:"id"`
	CompanyName     string         `json:"company_name"`
	Website         *string        `json:"website,omitempty"`
	Region          *string        `json:"region,omitempty"`
	Status          string         `json:"status" enum:"new,vetted,rejected,enriching,enriched,contacted,closed"`
	VettingStatus   string         `json:"vetting_status" enum:"pending,approved,rejected"`
	RejectionReason *string        `json:"rejection_reason,omitempty"`
	PainPoints      map[string]any `json:"pain_points,omitempty"`
	Score           int            `json:"score" minimum:"0" maximum:"100"`
	Version         int            `json:"version"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       *string        `json:"updated_at,omitempty" format:"date-time"`
}

// WebsiteOrEmpty returns the website or "" when absent.
func (l Lead) WebsiteOrEmpty() string {
	if l.Website == nil {
		return ""
	}
	return *l.Website
}

type AgentExecutionLog struct {
	ID               int64   `json:"id"`
	AgentName        string  `json:"agent_name"`
	RunID            string  `json:"run_id"`
	StartTime        string  `json:"start_time" format:"date-time"`
	EndTime          *string `json:"end_time,omitempty" format:"date-time"`
	Status           string  `json:"status" enum:"running,success,failed,partial"`
	RecordsProcessed int     `json:"records_processed"`
	ErrorMessage     *string `json:"error_message,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type LeadEvent struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	LeadID  string `json:"lead_id"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}

// Project tracks a converted lead through delivery. Value is in USD with
// cent precision.
type Project struct {
	ID        string   `json:"id"`
	LeadID    *string  `json:"lead_id,omitempty"`
	Stage     string   `json:"stage" enum:"discovery,build,launch"`
	Value     *float64 `json:"value,omitempty" minimum:"0"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt *string  `json:"updated_at,omitempty" format:"date-time"`
}
