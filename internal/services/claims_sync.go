package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/crowdlinkhq/crowdlink/pkg/logger"
)

// ClaimsSyncer propagates membership changes to the authentication layer so
// that freshly-issued tokens reflect the new role and access. Delivery is
// best-effort; callers log failures and move on.
type ClaimsSyncer interface {
	SyncClaims(ctx context.Context, userID string) error
}

// NewLoggingClaimsSyncer returns a ClaimsSyncer that only records the sync
// request. Deployments wire a real implementation against their identity
// provider.
func NewLoggingClaimsSyncer() ClaimsSyncer {
	return &loggingClaimsSyncer{log: logger.WithModule("claims-sync")}
}

type loggingClaimsSyncer struct {
	log *zap.Logger
}

func (s *loggingClaimsSyncer) SyncClaims(ctx context.Context, userID string) error {
	s.log.Info("claims sync requested", zap.String("user_id", userID))
	return nil
}
