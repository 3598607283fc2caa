package model

import "strings"

// Job status
type JobStatus string

const (
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition enforces the job state machine edges
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusGenerating:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}

// Remote status as reported by the generation service
type RemoteStatus string

const (
	RemoteStatusQueued     RemoteStatus = "QUEUED"
	RemoteStatusGenerating RemoteStatus = "GENERATING"
	RemoteStatusCompleted  RemoteStatus = "COMPLETED"
	RemoteStatusFailed     RemoteStatus = "FAILED"
)

// JobStatus maps a remote status onto the local state machine.
// Unknown values are treated as still generating.
func (s RemoteStatus) JobStatus() JobStatus {
	switch RemoteStatus(strings.ToUpper(string(s))) {
	case RemoteStatusCompleted:
		return JobStatusCompleted
	case RemoteStatusFailed:
		return JobStatusFailed
	default:
		return JobStatusGenerating
	}
}

// Persona tones accepted by the generation service
type Tone string

const (
	ToneCasual       Tone = "casual"
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneScientific   Tone = "scientific"
)
