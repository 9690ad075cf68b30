package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
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
	defaultConfirmationTokenTTL = 24 * time.Hour
	defaultUndoWindow           = 24 * time.Hour
	defaultDeletionGrace        = 28 * 24 * time.Hour
	deletionTokenBytes          = 48
)

var (
	// ErrOrganizationNotFound indicates the requested organization does not exist.
	ErrOrganizationNotFound = errors.New("deletion: organization not found")
	// ErrDeletionRequestNotFound indicates no deletion request matches the provided id.
	ErrDeletionRequestNotFound = errors.New("deletion: request not found")
	// ErrDeletionAlreadyPending indicates the organization already has an open deletion request.
	ErrDeletionAlreadyPending = errors.New("deletion: request already pending")
	// ErrConfirmationNameMismatch indicates the retyped organization name does not match.
	ErrConfirmationNameMismatch = errors.New("deletion: confirmation name does not match")
	// ErrTokenMismatch indicates the supplied token does not match the stored digest.
	ErrTokenMismatch = errors.New("deletion: token mismatch")
	// ErrConfirmationExpired indicates the confirmation window elapsed; the request is cancelled.
	ErrConfirmationExpired = errors.New("deletion: confirmation token expired")
	// ErrUndoExpired indicates the undo window elapsed; the deletion stays scheduled.
	ErrUndoExpired = errors.New("deletion: undo window expired")
	// ErrNotMember indicates the caller is not a member of the organization.
	ErrNotMember = errors.New("caller is not a member of the organization")
	// ErrMissingCapability indicates the caller lacks the capability the
	// operation requires.
	ErrMissingCapability = errors.New("caller lacks the required capability")
)

// WrongStatusError reports a transition attempted against a request that has
// already left the expected state. Repeat confirm/undo calls land here, so a
// replayed link can never re-arm the clock.
type WrongStatusError struct {
	Status models.DeletionRequestStatus
}

func (e *WrongStatusError) Error() string {
	return fmt.Sprintf("deletion: request is %s", e.Status)
}

// DeletionOption customises DeletionService behaviour.
type DeletionOption func(*DeletionService)

// WithDeletionClock injects a custom clock primarily for testing.
func WithDeletionClock(clock func() time.Time) DeletionOption {
	return func(s *DeletionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithDeletionWindows overrides the confirmation token TTL, the undo window,
// and the grace period before hard deletion.
func WithDeletionWindows(confirmTTL, undoWindow, grace time.Duration) DeletionOption {
	return func(s *DeletionService) {
		if confirmTTL > 0 {
			s.confirmTTL = confirmTTL
		}
		if undoWindow > 0 {
			s.undoWindow = undoWindow
		}
		if grace > 0 {
			s.grace = grace
		}
	}
}

// WithDeletionBaseURL configures the base URL used to build confirm/undo links.
func WithDeletionBaseURL(url string) DeletionOption {
	return func(s *DeletionService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// DeletionService drives the organization deletion state machine:
// none -> pending-email -> {confirmed-deletion | cancelled};
// confirmed-deletion -> cancelled via undo, or hard-deleted by the executor
// once the grace period elapses. Every transition is applied as a single
// transaction that re-validates status on a locked read, so two racing calls
// cannot both take the same transition.
type DeletionService struct {
	db         *gorm.DB
	audit      *AuditService
	mailer     mail.Mailer
	baseURL    string
	confirmTTL time.Duration
	undoWindow time.Duration
	grace      time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// NewDeletionService constructs a DeletionService with the provided dependencies.
func NewDeletionService(db *gorm.DB, audit *AuditService, mailer mail.Mailer, opts ...DeletionOption) (*DeletionService, error) {
	if db == nil {
		return nil, errors.New("deletion service: db is required")
	}
	if audit == nil {
		return nil, errors.New("deletion service: audit service is required")
	}

	service := &DeletionService{
		db:         db,
		audit:      audit,
		mailer:     mailer,
		confirmTTL: defaultConfirmationTokenTTL,
		undoWindow: defaultUndoWindow,
		grace:      defaultDeletionGrace,
		now:        time.Now,
		log:        logger.WithModule("deletion"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Initiate opens a deletion request for the organization. The requester must
// hold the delete capability and retype the organization's exact name. The
// confirmation email is dispatched after the transaction commits; a delivery
// failure is logged and does not fail the request.
func (s *DeletionService) Initiate(ctx context.Context, orgID, requesterID, requesterEmail, confirmationName string) (*models.DeletionRequest, error) {
	ctx = ensureContext(ctx)

	rawToken, err := crypto.GenerateToken(deletionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("deletion service: generate token: %w", err)
	}

	now := s.now()
	request := &models.DeletionRequest{}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&org, "id = ?", orgID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrganizationNotFound
		}
		if err != nil {
			return fmt.Errorf("load organization: %w", err)
		}

		var member models.Member
		err = tx.First(&member, "organization_id = ? AND user_id = ?", orgID, requesterID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotMember
		}
		if err != nil {
			return fmt.Errorf("load membership: %w", err)
		}

		if !permissions.HasCapability(member.Subject(), permissions.CapabilityDeleteOrganization) {
			return ErrMissingCapability
		}

		if confirmationName != org.Name {
			return ErrConfirmationNameMismatch
		}

		var open int64
		if err := tx.Model(&models.DeletionRequest{}).
			Where("organization_id = ? AND status IN ?", orgID,
				[]models.DeletionRequestStatus{models.DeletionPendingEmail, models.DeletionConfirmed}).
			Count(&open).Error; err != nil {
			return fmt.Errorf("check open requests: %w", err)
		}
		if open > 0 {
			return ErrDeletionAlreadyPending
		}

		*request = models.DeletionRequest{
			OrganizationID:        org.ID,
			OrganizationName:      org.Name,
			Status:                models.DeletionPendingEmail,
			ConfirmationTokenHash: crypto.HashToken(rawToken),
			TokenExpiresAt:        now.Add(s.confirmTTL),
			RequestedBy:           requesterID,
		}
		if err := tx.Create(request).Error; err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		if err := tx.Model(&models.Organization{}).
			Where("id = ?", org.ID).
			Update("deletion_request_id", request.ID).Error; err != nil {
			return fmt.Errorf("link request: %w", err)
		}

		requester := requesterID
		return s.audit.AppendTx(tx, AuditEntry{
			RequestID: request.ID,
			Action:    "initiated",
			UserID:    &requester,
			Metadata:  map[string]any{"organization_name": org.Name},
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.DeletionTransitions.WithLabelValues("initiated").Inc()

	s.sendConfirmationEmail(ctx, requesterEmail, request, rawToken)

	return request, nil
}

// Confirm applies the pending-email -> confirmed-deletion transition. It is
// single-shot: once the request leaves pending-email, replaying the same
// token yields a WrongStatusError. An expired token cancels the request and
// returns ErrConfirmationExpired.
func (s *DeletionService) Confirm(ctx context.Context, requestID, token string) (*models.DeletionRequest, error) {
	ctx = ensureContext(ctx)

	undoRaw, err := crypto.GenerateToken(deletionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("deletion service: generate undo token: %w", err)
	}

	request := &models.DeletionRequest{}
	expired := false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(request, "id = ?", requestID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeletionRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("load request: %w", err)
		}

		if !crypto.VerifyToken(token, request.ConfirmationTokenHash) {
			return ErrTokenMismatch
		}

		if request.Status != models.DeletionPendingEmail {
			return &WrongStatusError{Status: request.Status}
		}

		now := s.now()
		requester := request.RequestedBy

		if now.After(request.TokenExpiresAt) {
			expired = true
			request.Status = models.DeletionCancelled
			if err := tx.Model(request).
				Update("status", models.DeletionCancelled).Error; err != nil {
				return fmt.Errorf("cancel request: %w", err)
			}
			if err := tx.Model(&models.Organization{}).
				Where("id = ?", request.OrganizationID).
				Update("deletion_request_id", nil).Error; err != nil {
				return fmt.Errorf("unlink request: %w", err)
			}
			return s.audit.AppendTx(tx, AuditEntry{
				RequestID: request.ID,
				Action:    "confirmation-expired",
			})
		}

		scheduled := now.Add(s.grace)
		undoExpires := now.Add(s.undoWindow)

		request.Status = models.DeletionConfirmed
		request.ConfirmedAt = &now
		request.ConfirmedVia = "email"
		request.ScheduledDeletionAt = &scheduled
		request.UndoTokenHash = crypto.HashToken(undoRaw)
		request.UndoExpiresAt = &undoExpires

		if err := tx.Model(request).Updates(map[string]any{
			"status":                models.DeletionConfirmed,
			"confirmed_at":          now,
			"confirmed_via":         "email",
			"scheduled_deletion_at": scheduled,
			"undo_token_hash":       request.UndoTokenHash,
			"undo_expires_at":       undoExpires,
		}).Error; err != nil {
			return fmt.Errorf("confirm request: %w", err)
		}

		if err := tx.Model(&models.Organization{}).
			Where("id = ?", request.OrganizationID).
			Update("soft_deleted_at", now).Error; err != nil {
			return fmt.Errorf("soft delete organization: %w", err)
		}

		return s.audit.AppendTx(tx, AuditEntry{
			RequestID: request.ID,
			Action:    "confirmed",
			UserID:    &requester,
			Metadata: map[string]any{
				"scheduled_deletion_at": scheduled.UTC().Format(time.RFC3339),
				"undo_expires_at":       undoExpires.UTC().Format(time.RFC3339),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if expired {
		metrics.DeletionTransitions.WithLabelValues("expired").Inc()
		return nil, ErrConfirmationExpired
	}

	metrics.DeletionTransitions.WithLabelValues("confirmed").Inc()

	// Notification is best-effort and deliberately outside the transaction:
	// the state transition is the source of truth.
	s.notifyPendingDeletion(ctx, request, undoRaw)

	return request, nil
}

// Undo applies the confirmed-deletion -> cancelled transition. The caller
// must be a member of the organization and hold the delete capability; a
// legacy owner record with no override list qualifies through the role table.
func (s *DeletionService) Undo(ctx context.Context, requestID, token, userID string) (*models.DeletionRequest, error) {
	ctx = ensureContext(ctx)

	request := &models.DeletionRequest{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(request, "id = ?", requestID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeletionRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("load request: %w", err)
		}

		if !crypto.VerifyToken(token, request.UndoTokenHash) {
			return ErrTokenMismatch
		}

		if request.Status != models.DeletionConfirmed {
			return &WrongStatusError{Status: request.Status}
		}

		now := s.now()
		if request.UndoExpiresAt == nil || now.After(*request.UndoExpiresAt) {
			return ErrUndoExpired
		}

		var member models.Member
		err = tx.First(&member, "organization_id = ? AND user_id = ?", request.OrganizationID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotMember
		}
		if err != nil {
			return fmt.Errorf("load membership: %w", err)
		}

		if !permissions.HasCapability(member.Subject(), permissions.CapabilityDeleteOrganization) {
			return ErrMissingCapability
		}

		request.Status = models.DeletionCancelled
		if err := tx.Model(request).
			Update("status", models.DeletionCancelled).Error; err != nil {
			return fmt.Errorf("cancel request: %w", err)
		}

		if err := tx.Model(&models.Organization{}).
			Where("id = ?", request.OrganizationID).
			Updates(map[string]any{
				"soft_deleted_at":     nil,
				"deletion_request_id": nil,
			}).Error; err != nil {
			return fmt.Errorf("restore organization: %w", err)
		}

		caller := userID
		return s.audit.AppendTx(tx, AuditEntry{
			RequestID: request.ID,
			Action:    "undone",
			UserID:    &caller,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.DeletionTransitions.WithLabelValues("undone").Inc()
	return request, nil
}

// Status returns the organization's current deletion request with its audit
// trail, or ErrDeletionRequestNotFound when none is linked.
func (s *DeletionService) Status(ctx context.Context, orgID string) (*models.DeletionRequest, error) {
	ctx = ensureContext(ctx)

	var org models.Organization
	err := s.db.WithContext(ctx).First(&org, "id = ?", orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deletion service: load organization: %w", err)
	}

	if org.DeletionRequestID == nil {
		return nil, ErrDeletionRequestNotFound
	}

	var request models.DeletionRequest
	err = s.db.WithContext(ctx).
		Preload("AuditEntries", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&request, "id = ?", *org.DeletionRequestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeletionRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deletion service: load request: %w", err)
	}
	return &request, nil
}

// ExpireStale cancels pending-email requests whose confirmation token has
// lapsed without a click. Run by the maintenance sweep.
func (s *DeletionService) ExpireStale(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)

	var stale []models.DeletionRequest
	if err := s.db.WithContext(ctx).
		Where("status = ? AND token_expires_at < ?", models.DeletionPendingEmail, s.now()).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("deletion service: find stale requests: %w", err)
	}

	cancelled := 0
	for i := range stale {
		request := stale[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Re-validate under lock: a confirm may have landed since the scan.
			var current models.DeletionRequest
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&current, "id = ?", request.ID).Error; err != nil {
				return err
			}
			if current.Status != models.DeletionPendingEmail || s.now().Before(current.TokenExpiresAt) {
				return nil
			}

			if err := tx.Model(&current).
				Update("status", models.DeletionCancelled).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Organization{}).
				Where("id = ?", current.OrganizationID).
				Update("deletion_request_id", nil).Error; err != nil {
				return err
			}
			cancelled++
			return s.audit.AppendTx(tx, AuditEntry{
				RequestID: current.ID,
				Action:    "confirmation-expired",
			})
		})
		if err != nil {
			s.log.Warn("stale request cleanup failed",
				zap.String("request_id", request.ID),
				zap.Error(err),
			)
		}
	}

	if cancelled > 0 {
		metrics.DeletionTransitions.WithLabelValues("expired").Add(float64(cancelled))
	}
	return cancelled, nil
}

// ExecuteDue hard-deletes organizations whose grace period has elapsed with
// no undo. The orchestrator transitions only prepare this state; the sweep
// performs the irreversible part.
func (s *DeletionService) ExecuteDue(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)

	var due []models.DeletionRequest
	if err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_deletion_at IS NOT NULL AND scheduled_deletion_at < ?",
			models.DeletionConfirmed, s.now()).
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("deletion service: find due requests: %w", err)
	}

	executed := 0
	for i := range due {
		request := due[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current models.DeletionRequest
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&current, "id = ?", request.ID).Error; err != nil {
				return err
			}
			if current.Status != models.DeletionConfirmed {
				return nil
			}

			orgID := current.OrganizationID
			if err := tx.Where("organization_id = ?", orgID).Delete(&models.Member{}).Error; err != nil {
				return err
			}
			if err := tx.Where("organization_id = ?", orgID).Delete(&models.Invitation{}).Error; err != nil {
				return err
			}
			if err := tx.Where("organization_id = ?", orgID).Delete(&models.Brand{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id = ?", orgID).Delete(&models.Organization{}).Error; err != nil {
				return err
			}

			executed++
			return s.audit.AppendTx(tx, AuditEntry{
				RequestID: current.ID,
				Action:    "executed",
			})
		})
		if err != nil {
			s.log.Error("scheduled deletion failed",
				zap.String("request_id", request.ID),
				zap.String("organization_id", request.OrganizationID),
				zap.Error(err),
			)
		}
	}

	if executed > 0 {
		metrics.DeletionTransitions.WithLabelValues("executed").Add(float64(executed))
	}
	return executed, nil
}

func (s *DeletionService) sendConfirmationEmail(ctx context.Context, email string, request *models.DeletionRequest, token string) {
	if s.mailer == nil || strings.TrimSpace(email) == "" {
		return
	}

	link := fmt.Sprintf("%s/deletion/confirm?requestId=%s&token=%s", s.baseURL, request.ID, token)
	msg := mail.Message{
		To:      []string{email},
		Subject: fmt.Sprintf("Confirm deletion of %s", request.OrganizationName),
		Body: fmt.Sprintf(
			"You asked to delete the organization %q.\n\nConfirm within 24 hours using this link:\n%s\n\nIf you did not request this, ignore this email and the request will lapse.\n",
			request.OrganizationName, link),
	}
	if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		s.log.Warn("confirmation email failed",
			zap.String("request_id", request.ID),
			zap.Error(err),
		)
	}
}

// notifyPendingDeletion emails every member holding the delete capability,
// except the requester, with the undo link. Per-recipient failures are
// aggregated and logged; none of them fail the confirmation.
func (s *DeletionService) notifyPendingDeletion(ctx context.Context, request *models.DeletionRequest, undoToken string) {
	if s.mailer == nil {
		return
	}

	var members []models.Member
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", request.OrganizationID).
		Find(&members).Error; err != nil {
		s.log.Warn("notification member lookup failed",
			zap.String("request_id", request.ID),
			zap.Error(err),
		)
		return
	}

	var recipients []string
	for i := range members {
		member := members[i]
		if member.UserID == request.RequestedBy {
			continue
		}
		if !permissions.HasCapability(member.Subject(), permissions.CapabilityDeleteOrganization) {
			continue
		}
		recipients = append(recipients, member.UserID)
	}
	if len(recipients) == 0 {
		return
	}

	var users []models.User
	if err := s.db.WithContext(ctx).
		Where("id IN ?", recipients).
		Find(&users).Error; err != nil {
		s.log.Warn("notification user lookup failed",
			zap.String("request_id", request.ID),
			zap.Error(err),
		)
		return
	}

	link := fmt.Sprintf("%s/deletion/undo?requestId=%s&token=%s", s.baseURL, request.ID, undoToken)
	body := fmt.Sprintf(
		"The organization %q has been scheduled for deletion on %s.\n\nAny administrator with deletion rights can reverse this within 24 hours:\n%s\n",
		request.OrganizationName,
		request.ScheduledDeletionAt.UTC().Format(time.RFC1123),
		link,
	)

	var errs error
	for i := range users {
		user := users[i]
		if strings.TrimSpace(user.Email) == "" {
			continue
		}
		msg := mail.Message{
			To:      []string{user.Email},
			Subject: fmt.Sprintf("Scheduled deletion of %s", request.OrganizationName),
			Body:    body,
		}
		if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
			errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", user.ID, err))
		}
	}
	if errs != nil {
		s.log.Warn("pending-deletion notifications failed",
			zap.String("request_id", request.ID),
			zap.Error(errs),
		)
	}
}
