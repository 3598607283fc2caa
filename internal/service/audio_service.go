package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aura/api/internal/client"
)

// maxMirrorSize caps how much audio is buffered for an R2 upload
const maxMirrorSize = 64 << 20

// AudioResult is either a redirect to mirrored audio or an open remote stream
type AudioResult struct {
	RedirectURL string
	Stream      *client.AudioStream
}

// AudioService serves podcast audio, mirroring it to object storage when configured
type AudioService struct {
	remote  client.PodcastGenerator
	storage client.StorageClient
	expiry  time.Duration
}

// NewAudioService creates the audio service. storage may be nil, in which
// case audio is always proxied from the generation service.
func NewAudioService(remote client.PodcastGenerator, storage client.StorageClient, expiry time.Duration) *AudioService {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &AudioService{
		remote:  remote,
		storage: storage,
		expiry:  expiry,
	}
}

// Open returns the audio of a completed job
func (s *AudioService) Open(ctx context.Context, jobID string) (*AudioResult, error) {
	if s.storage != nil {
		url, err := s.mirrored(ctx, jobID)
		if err == nil {
			return &AudioResult{RedirectURL: url}, nil
		}
		log.Printf("[Audio] mirror unavailable for %s, proxying: %v", jobID, err)
	}

	stream, err := s.remote.StreamAudio(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAudioUnavailable, err)
	}
	return &AudioResult{Stream: stream}, nil
}

// Purge removes mirrored audio for jobID
func (s *AudioService) Purge(ctx context.Context, jobID string) error {
	if s.storage == nil {
		return nil
	}
	return s.storage.Delete(ctx, client.AudioKey(jobID))
}

func (s *AudioService) mirrored(ctx context.Context, jobID string) (string, error) {
	key := client.AudioKey(jobID)

	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := s.mirror(ctx, jobID, key); err != nil {
			return "", err
		}
	}

	return s.storage.GetSignedURL(ctx, key, s.expiry)
}

func (s *AudioService) mirror(ctx context.Context, jobID, key string) error {
	stream, err := s.remote.StreamAudio(ctx, jobID)
	if err != nil {
		return err
	}
	defer stream.Body.Close()

	data, err := io.ReadAll(io.LimitReader(stream.Body, maxMirrorSize+1))
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) > maxMirrorSize {
		return fmt.Errorf("audio exceeds %d bytes", maxMirrorSize)
	}

	if err := s.storage.Upload(ctx, key, bytes.NewReader(data), stream.ContentType); err != nil {
		return err
	}

	log.Printf("[Audio] mirrored %s (%d bytes)", jobID, len(data))
	return nil
}
