package model

import "time"

// RunningJob describes one job currently executing on the backend.
type RunningJob struct {
	JobRef    string     `json:"job_ref"`
	IsMine    bool       `json:"is_mine"`
	Agent     string     `json:"agent"`
	Info      string     `json:"info"`
	Launcher  string     `json:"launcher"`
	StartedAt time.Time  `json:"started_at"`
	Deadline  *time.Time `json:"deadline,omitempty"`
}

// WaitingJob describes one job queued on the backend but not yet started.
type WaitingJob struct {
	JobRef      string `json:"job_ref"`
	IsMine      bool   `json:"is_mine"`
	Info        string `json:"info"`
	Launcher    string `json:"launcher"`
	MaxDuration *int   `json:"max_duration_s,omitempty"`
}

// QueueSnapshot is a point-in-time view of the backend job queue. It may be
// cached and may omit very recent jobs.
type QueueSnapshot struct {
	Running []RunningJob `json:"running"`
	Waiting []WaitingJob `json:"waiting"`
}

// QueuePosition locates one job in the backend queue. Position is -1 when the
// job is already running.
type QueuePosition struct {
	Position      int `json:"position"`
	EstimatedWait int `json:"estimated_wait_s"`
}
