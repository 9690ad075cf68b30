package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crowdlinkhq/crowdlink/internal/models"
	"github.com/crowdlinkhq/crowdlink/internal/permissions"
	"github.com/crowdlinkhq/crowdlink/pkg/crypto"
	"github.com/crowdlinkhq/crowdlink/pkg/logger"
	"github.com/crowdlinkhq/crowdlink/pkg/mail"
	"github.com/crowdlinkhq/crowdlink/pkg/metrics"
)

const (
	defaultInvitationExpiry     = 7 * 24 * time.Hour
	defaultInvitationTokenBytes = 48
)

var (
	// ErrInvitationAlreadyPending indicates a pending invitation already exists
	// for the (email, organization) pair.
	ErrInvitationAlreadyPending = errors.New("invitation: already pending")
	// ErrInvalidRole indicates a role outside the closed enum.
	ErrInvalidRole = errors.New("invalid role")
)

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithInvitationExpiry overrides the invitation lifetime.
func WithInvitationExpiry(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithInvitationBaseURL configures the base URL used to build invitation links.
func WithInvitationBaseURL(url string) InvitationOption {
	return func(s *InvitationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// InvitationService creates invitations and processes acceptance batches.
type InvitationService struct {
	db          *gorm.DB
	mailer      mail.Mailer
	baseURL     string
	expiry      time.Duration
	tokenLength int
	now         func() time.Time
	log         *zap.Logger
}

// NewInvitationService constructs an InvitationService with the provided dependencies.
func NewInvitationService(db *gorm.DB, mailer mail.Mailer, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}

	service := &InvitationService{
		db:          db,
		mailer:      mailer,
		expiry:      defaultInvitationExpiry,
		tokenLength: defaultInvitationTokenBytes,
		now:         time.Now,
		log:         logger.WithModule("invitations"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreateInvitationInput captures the attributes required to invite an email
// address into an organization.
type CreateInvitationInput struct {
	Email          string
	OrganizationID string
	Role           permissions.Role
	BrandAccessAll bool
	BrandIDs       []string
	InvitedBy      string
}

// Create registers a new invitation and dispatches the invite email. At most
// one pending invitation may exist per (email, organization) pair.
func (s *InvitationService) Create(ctx context.Context, input CreateInvitationInput) (*models.Invitation, string, error) {
	ctx = ensureContext(ctx)

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, "", errors.New("invitation service: email is required")
	}
	if strings.TrimSpace(input.OrganizationID) == "" {
		return nil, "", errors.New("invitation service: organization id is required")
	}
	if !permissions.ValidRole(input.Role) {
		return nil, "", ErrInvalidRole
	}

	var inviter models.Member
	err := s.db.WithContext(ctx).
		First(&inviter, "organization_id = ? AND user_id = ?", input.OrganizationID, input.InvitedBy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", ErrNotMember
	}
	if err != nil {
		return nil, "", fmt.Errorf("invitation service: load inviter: %w", err)
	}
	if !permissions.HasCapability(inviter.Subject(), permissions.CapabilityInviteMembers) {
		return nil, "", ErrMissingCapability
	}

	now := s.now()

	var pending int64
	if err := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("email = ? AND organization_id = ? AND status = ? AND expires_at > ?",
			email, input.OrganizationID, models.InvitationPending, now).
		Count(&pending).Error; err != nil {
		return nil, "", fmt.Errorf("invitation service: check pending: %w", err)
	}
	if pending > 0 {
		return nil, "", ErrInvitationAlreadyPending
	}

	rawToken, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return nil, "", fmt.Errorf("invitation service: generate token: %w", err)
	}

	invitation := models.Invitation{
		Email:          email,
		OrganizationID: input.OrganizationID,
		Role:           input.Role,
		Status:         models.InvitationPending,
		BrandAccessAll: input.BrandAccessAll,
		TokenHash:      crypto.HashToken(rawToken),
		InvitedBy:      strings.TrimSpace(input.InvitedBy),
		InvitedAt:      now,
		ExpiresAt:      now.Add(s.expiry),
	}
	if input.BrandIDs != nil {
		scoped := models.Member{}
		if err := scoped.SetBrandList(input.BrandIDs); err != nil {
			return nil, "", fmt.Errorf("invitation service: encode brand ids: %w", err)
		}
		invitation.BrandIDs = scoped.BrandIDs
	}

	if err := s.db.WithContext(ctx).Create(&invitation).Error; err != nil {
		return nil, "", fmt.Errorf("invitation service: create invitation: %w", err)
	}

	if s.mailer != nil {
		message := mail.Message{
			To:      []string{email},
			Subject: "You have been invited to join an organization",
			Body:    s.inviteBody(rawToken),
		}
		if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return nil, "", fmt.Errorf("invitation service: send email: %w", mailErr)
		}
	}

	return &invitation, rawToken, nil
}

// AcceptItemError reports a single invitation the caller may not accept.
type AcceptItemError struct {
	InvitationID string `json:"invitation_id"`
	Message      string `json:"message"`
}

// AcceptResult partitions a batch of invitation ids into three disjoint lists.
type AcceptResult struct {
	Accepted []string          `json:"accepted"`
	Skipped  []string          `json:"skipped"`
	Errors   []AcceptItemError `json:"errors"`
}

type acceptOutcome int

const (
	outcomeAccepted acceptOutcome = iota
	outcomeSkipped
	outcomeError
)

// Accept processes a batch of invitation acceptances for the authenticated
// caller. Each id is handled in its own transaction; there is no cross-item
// atomicity. Unknown or already-processed ids are skipped rather than
// rejected, so retrying a timed-out request is safe.
func (s *InvitationService) Accept(ctx context.Context, userID, email string, invitationIDs []string) (*AcceptResult, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("invitation service: user id is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("invitation service: email is required")
	}
	if len(invitationIDs) == 0 {
		return nil, errors.New("invitation service: at least one invitation id is required")
	}

	result := &AcceptResult{
		Accepted: []string{},
		Skipped:  []string{},
		Errors:   []AcceptItemError{},
	}

	for _, id := range invitationIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		outcome, message, err := s.acceptOne(ctx, userID, email, id)
		if err != nil {
			s.log.Error("invitation acceptance failed",
				zap.String("invitation_id", id),
				zap.Error(err),
			)
			outcome = outcomeError
			message = "invitation could not be processed"
		}

		switch outcome {
		case outcomeAccepted:
			metrics.InvitationAcceptances.WithLabelValues("accepted").Inc()
			result.Accepted = append(result.Accepted, id)
		case outcomeSkipped:
			metrics.InvitationAcceptances.WithLabelValues("skipped").Inc()
			result.Skipped = append(result.Skipped, id)
		case outcomeError:
			metrics.InvitationAcceptances.WithLabelValues("error").Inc()
			result.Errors = append(result.Errors, AcceptItemError{InvitationID: id, Message: message})
		}
	}

	// Profile upkeep is deliberately outside every item transaction; it may
	// lag the memberships it accompanies.
	if err := s.touchProfile(ctx, userID, email); err != nil {
		s.log.Warn("profile upsert failed", zap.String("user_id", userID), zap.Error(err))
	}

	return result, nil
}

// acceptOne runs the read-check-write sequence for a single invitation inside
// one transaction, so concurrent acceptance of the same invitation serialises
// and the loser observes status != pending.
func (s *InvitationService) acceptOne(ctx context.Context, userID, email, invitationID string) (acceptOutcome, string, error) {
	outcome := outcomeSkipped
	message := ""

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invitation models.Invitation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&invitation, "id = ?", invitationID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = outcomeSkipped
			return nil
		}
		if err != nil {
			return fmt.Errorf("load invitation: %w", err)
		}

		if !strings.EqualFold(strings.TrimSpace(invitation.Email), email) {
			outcome = outcomeError
			message = fmt.Sprintf("this invitation was issued to %s", invitation.Email)
			return nil
		}

		if invitation.Status != models.InvitationPending {
			outcome = outcomeSkipped
			return nil
		}

		now := s.now()
		if now.After(invitation.ExpiresAt) {
			outcome = outcomeSkipped
			return tx.Model(&invitation).
				Update("status", models.InvitationExpired).Error
		}

		var existing int64
		if err := tx.Model(&models.Member{}).
			Where("organization_id = ? AND user_id = ?", invitation.OrganizationID, userID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("check membership: %w", err)
		}

		accepted := map[string]any{
			"status":      models.InvitationAccepted,
			"accepted_at": now,
		}

		if existing > 0 {
			// Already a member: consume the invitation but do not duplicate
			// the membership.
			outcome = outcomeSkipped
			return tx.Model(&invitation).Updates(accepted).Error
		}

		invitedBy := invitation.InvitedBy
		invitedAt := invitation.InvitedAt
		member := models.Member{
			OrganizationID: invitation.OrganizationID,
			UserID:         userID,
			Role:           invitation.Role,
			BrandAccessAll: invitation.BrandAccessAll,
			BrandIDs:       invitation.BrandIDs,
			InvitedBy:      &invitedBy,
			InvitedAt:      &invitedAt,
		}
		if err := tx.Create(&member).Error; err != nil {
			if isUniqueConstraintError(err) {
				outcome = outcomeSkipped
				return tx.Model(&invitation).Updates(accepted).Error
			}
			return fmt.Errorf("create member: %w", err)
		}

		if err := tx.Model(&invitation).Updates(accepted).Error; err != nil {
			return fmt.Errorf("mark accepted: %w", err)
		}

		outcome = outcomeAccepted
		return nil
	})

	return outcome, message, err
}

// touchProfile creates the caller's profile on first sight and bumps the
// last-seen timestamp on every subsequent batch.
func (s *InvitationService) touchProfile(ctx context.Context, userID, email string) error {
	now := s.now()
	user := models.User{
		ID:         userID,
		Email:      email,
		LastSeenAt: now,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"email":        email,
				"last_seen_at": now,
			}),
		}).
		Create(&user).Error
}

// ExpirePending flips pending invitations whose window has elapsed. Used by
// the maintenance sweep; the acceptance path performs the same transition
// lazily when a stale invitation is accepted.
func (s *InvitationService) ExpirePending(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("status = ? AND expires_at < ?", models.InvitationPending, s.now()).
		Update("status", models.InvitationExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("invitation service: expire pending: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *InvitationService) inviteBody(token string) string {
	link := token
	if s.baseURL != "" {
		link = fmt.Sprintf("%s/invitations?token=%s", s.baseURL, token)
	}
	return fmt.Sprintf("Hello,\n\nYou have been invited to join an organization on Crowdlink. Use the following link to accept:\n%s\n\nIf you did not expect this email, you can ignore it.\n", link)
}
