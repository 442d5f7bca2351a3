package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/models"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Evictor closes the live channel of an expired session.
type Evictor interface {
	Evict(userID, channelID string) bool
}

// SessionService tracks which transport channels are live for each user.
type SessionService struct {
	repomanager repomanager.RepositoryManager
	clock       clockwork.Clock
	logger      logging.Logger
	evictor     Evictor
}

func NewSessionService(rm repomanager.RepositoryManager, clock clockwork.Clock, logger logging.Logger) *SessionService {
	return &SessionService{repomanager: rm, clock: clock, logger: logger.With("module", "sessions")}
}

// SetEvictor makes ExpireStale close the channels it expires. Call before
// the reaper starts.
func (s *SessionService) SetEvictor(e Evictor) {
	s.evictor = e
}

// Register opens a session for a new channel and returns it together with
// every active session of the user, the new one included.
func (s *SessionService) Register(ctx context.Context, userID, deviceID string, meta map[string]string) (*models.DeviceSession, []*models.DeviceSession, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, nil, fmt.Errorf("%w: device id is required", common.ErrValidation)
	}

	now := s.clock.Now().UTC()
	sess := &models.DeviceSession{
		ChannelID: uuid.NewString(),
		DeviceID:  deviceID,
		UserID:    userID,
		Meta:      meta,
		CreatedAt: now,
		LastSeen:  now,
		Active:    true,
	}

	repo := s.repomanager.Devices(s.repomanager.Conn())
	if err := repo.Create(ctx, sess); err != nil {
		return nil, nil, err
	}

	active, err := repo.ListActive(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info(ctx, "device registered", "user_id", userID, "device_id", deviceID, "channel_id", sess.ChannelID)
	return sess, active, nil
}

func (s *SessionService) Touch(ctx context.Context, channelID string) error {
	return s.repomanager.Devices(s.repomanager.Conn()).Touch(ctx, channelID, s.clock.Now().UTC())
}

func (s *SessionService) Deregister(ctx context.Context, channelID string) error {
	err := s.repomanager.Devices(s.repomanager.Conn()).Deactivate(ctx, channelID, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "device deregistered", "channel_id", channelID)
	return nil
}

func (s *SessionService) ActiveDevices(ctx context.Context, userID string) ([]*models.DeviceSession, error) {
	return s.repomanager.Devices(s.repomanager.Conn()).ListActive(ctx, userID)
}

// ExpireStale deactivates sessions silent for longer than ttl and evicts
// their channels from broadcast.
func (s *SessionService) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	expired, err := s.repomanager.Devices(s.repomanager.Conn()).DeactivateStale(ctx, s.clock.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, err
	}
	for _, sess := range expired {
		if s.evictor != nil && s.evictor.Evict(sess.UserID, sess.ChannelID) {
			s.logger.Debug(ctx, "expired channel evicted", "user_id", sess.UserID, "channel_id", sess.ChannelID)
		}
	}
	if len(expired) > 0 {
		s.logger.Info(ctx, "stale sessions expired", "count", len(expired))
	}
	return int64(len(expired)), nil
}

// RunReaper calls ExpireStale every interval until ctx is done.
func (s *SessionService) RunReaper(ctx context.Context, interval, ttl time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.ExpireStale(ctx, ttl); err != nil {
				s.logger.Error(ctx, "session reaper failed", "error", err)
			}
		}
	}
}
