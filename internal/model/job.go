package model

import "time"

// Job represents a podcast generation job tracked by this process
type Job struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Status        JobStatus `json:"status"`
	Progress      int       `json:"progress"`
	Topics        []string  `json:"topics,omitempty"`
	Duration      float64   `json:"duration,omitempty"`
	ContentLoaded bool      `json:"contentLoaded"`
	Warning       string    `json:"warning,omitempty"` // soft content fetch failure
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Clone returns a copy that shares no slices with j
func (j Job) Clone() Job {
	if j.Topics != nil {
		j.Topics = append([]string(nil), j.Topics...)
	}
	return j
}

// IsTerminal reports whether the job can no longer change status
func (j Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// JobPatch carries a partial update. Nil fields are left untouched.
type JobPatch struct {
	Status        *JobStatus
	Progress      *int
	Topics        []string
	Duration      *float64
	ContentLoaded *bool
	Warning       *string
	Error         *string
}

// StatusPatch builds a patch for a status/progress observation
func StatusPatch(status JobStatus, progress int) JobPatch {
	return JobPatch{Status: &status, Progress: &progress}
}

// ContentPatch builds a patch that stores fetched podcast content
func ContentPatch(content *PodcastContent) JobPatch {
	loaded := true
	cleared := ""
	duration := content.Duration
	topics := content.Topics
	if topics == nil {
		topics = []string{}
	}
	return JobPatch{
		Topics:        topics,
		Duration:      &duration,
		ContentLoaded: &loaded,
		Warning:       &cleared,
	}
}

// WarningPatch builds a patch that records a soft warning
func WarningPatch(msg string) JobPatch {
	return JobPatch{Warning: &msg}
}
