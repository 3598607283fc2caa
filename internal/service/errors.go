package service

import (
	"errors"

	"github.com/aura/api/internal/poller"
)

var (
	// ErrPreconditionFailed is returned when a submit has no user identity
	ErrPreconditionFailed = errors.New("user identity required")

	// ErrGenerationRequestFailed wraps any failure of the generate call
	ErrGenerationRequestFailed = errors.New("podcast generation request failed")

	// ErrJobNotFound covers both unknown ids and jobs owned by another user
	ErrJobNotFound = errors.New("podcast not found")

	// ErrJobNotCompleted is returned for content or audio of a generating job
	ErrJobNotCompleted = errors.New("podcast is still generating")

	// ErrJobFailed is returned for content or audio of a failed job
	ErrJobFailed = poller.ErrJobFailed

	// ErrContentFetchFailed is returned when on-demand content cannot be loaded
	ErrContentFetchFailed = poller.ErrContentFetchFailed

	// ErrAudioUnavailable is returned when neither the mirror nor the remote stream can serve audio
	ErrAudioUnavailable = errors.New("podcast audio unavailable")
)
