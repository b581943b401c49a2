package types

type PlanType string

const (
	PlanFree     PlanType = "free"
	PlanPro      PlanType = "pro"
	PlanBusiness PlanType = "business"
)

// PlanLimits is an immutable snapshot of what a plan tier allows. It is
// sourced from billing and read-only here. DailyTranscriptionLimit of 0
// means unlimited.
type PlanLimits struct {
	DailyTranscriptionLimit int   `json:"daily_transcription_limit"`
	MaxMinutesPerFile       int   `json:"max_minutes_per_file"`
	MaxFileSizeBytes        int64 `json:"max_file_size_bytes"`
	MaxConcurrentJobs       int   `json:"max_concurrent_jobs"`
	Priority                bool  `json:"priority"`
	AllowTranslation        bool  `json:"allow_translation"`
}

// UsageStats is a read-only snapshot of a user's consumption.
type UsageStats struct {
	UsedMinutesThisMonth int64 `json:"used_minutes_this_month"`
	JobsCreatedToday     int64 `json:"jobs_created_today"`
	ActiveJobs           int64 `json:"active_jobs"`
}

type UsageResponse struct {
	PlanType PlanType   `json:"plan_type"`
	Usage    UsageStats `json:"usage"`
	Limits   PlanLimits `json:"limits"`
}
