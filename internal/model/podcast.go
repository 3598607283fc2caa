package model

import (
	"math"
	"time"
)

// PodcastGenerateRequest represents the request for a personalized briefing
type PodcastGenerateRequest struct {
	Preferences  UserPreferences `json:"user_preferences"`
	Interests    []string        `json:"interests" validate:"max=20,dive,min=1,max=64"`
	HomeLocation *Location       `json:"home_location,omitempty" validate:"omitempty"`
	WorkLocation *Location       `json:"work_location,omitempty" validate:"omitempty"`
	Extra        PodcastExtra    `json:"extra"`
}

// UserPreferences represents the persona used for the briefing
type UserPreferences struct {
	Tone Tone   `json:"tone" validate:"omitempty,oneof=casual professional friendly scientific"`
	Name string `json:"name" validate:"max=100"`
}

// Location represents a saved place of the user
type Location struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
	Name      string  `json:"name,omitempty" validate:"max=200"`
}

// PodcastExtra carries optional personalization context
type PodcastExtra struct {
	HealthConditions []string               `json:"health_conditions,omitempty" validate:"max=20"`
	Personalization  map[string]interface{} `json:"personalization,omitempty"`
}

// PodcastSubmitResponse represents the response to an accepted submission
type PodcastSubmitResponse struct {
	JobID     string    `json:"id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"createdAt"`
}

// PodcastListResponse represents the list view
type PodcastListResponse struct {
	Podcasts []Job `json:"podcasts"`
	Count    int   `json:"count"`
}

// PodcastContent is the unified content model of a completed podcast
type PodcastContent struct {
	Topics    []string   `json:"topics"`
	Duration  float64    `json:"duration"`
	Questions []Question `json:"questions"`
}

// Question is a prompt shown to the listener at a playback position
type Question struct {
	Timestamp float64 `json:"timestamp"`
	Question  string  `json:"question"`
}

// QuestionsNear returns the questions within window seconds of position
func (c *PodcastContent) QuestionsNear(position, window float64) []Question {
	out := make([]Question, 0, len(c.Questions))
	for _, q := range c.Questions {
		if math.Abs(q.Timestamp-position) < window {
			out = append(out, q)
		}
	}
	return out
}

// PodcastContentResponse represents the player view payload
type PodcastContentResponse struct {
	JobID     string     `json:"id"`
	Topics    []string   `json:"topics"`
	Duration  float64    `json:"duration"`
	Questions []Question `json:"questions"`
	AudioURL  string     `json:"audioUrl"`
}

// PodcastDeleteResponse represents the result of a removal
type PodcastDeleteResponse struct {
	JobID         string `json:"id"`
	Deleted       bool   `json:"deleted"`
	RemoteDeleted bool   `json:"remoteDeleted"`
	Warning       string `json:"warning,omitempty"`
}

// RemoteJobStatus is the status payload of the generation service
type RemoteJobStatus struct {
	Status   RemoteStatus `json:"status"`
	Progress float64      `json:"progress"`
}

// Percent returns the progress as an integer percentage clamped to [0,100]
func (s *RemoteJobStatus) Percent() int {
	p := int(math.Round(s.Progress))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
