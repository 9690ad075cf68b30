package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crowdlinkhq/crowdlink/internal/models"
	"github.com/crowdlinkhq/crowdlink/internal/permissions"
	"github.com/crowdlinkhq/crowdlink/pkg/logger"
)

var (
	// ErrMemberNotFound indicates no membership row matches the target user.
	ErrMemberNotFound = errors.New("membership: member not found")
	// ErrSelfRoleChange indicates a member tried to change their own role.
	ErrSelfRoleChange = errors.New("membership: cannot change your own role")
	// ErrEscalationDenied indicates the actor's rank does not permit the change.
	ErrEscalationDenied = errors.New("membership: escalation denied")
	// ErrLastOwnerRemoval indicates the change would leave the organization
	// without an owner.
	ErrLastOwnerRemoval = errors.New("membership: organization must keep at least one owner")
)

// UpdateMemberInput carries the mutable membership fields. Nil pointers leave
// the corresponding field untouched; a nil BrandIDs slice leaves the brand
// scope as-is while an empty one clears it.
type UpdateMemberInput struct {
	Role               *permissions.Role
	BrandAccessAll     *bool
	BrandIDs           []string
	AutoGrantNewBrands *bool
}

// MemberService manages membership records after acceptance: listing,
// role changes under the escalation guard, brand scoping, and removal.
type MemberService struct {
	db     *gorm.DB
	syncer ClaimsSyncer
	log    *zap.Logger
}

// NewMemberService constructs a MemberService with the provided dependencies.
func NewMemberService(db *gorm.DB, syncer ClaimsSyncer) (*MemberService, error) {
	if db == nil {
		return nil, errors.New("member service: db is required")
	}
	return &MemberService{
		db:     db,
		syncer: syncer,
		log:    logger.WithModule("members"),
	}, nil
}

// List returns the organization's members. The actor must belong to the
// organization and hold the view capability.
func (s *MemberService) List(ctx context.Context, orgID, actorID string) ([]models.Member, error) {
	ctx = ensureContext(ctx)

	actor, err := s.loadMember(ctx, s.db, orgID, actorID)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	if !permissions.HasCapability(actor.Subject(), permissions.CapabilityViewOrganization) {
		return nil, ErrMissingCapability
	}

	var members []models.Member
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("member service: list members: %w", err)
	}
	return members, nil
}

// Get returns a single membership record, subject to the same access rules
// as List.
func (s *MemberService) Get(ctx context.Context, orgID, userID, actorID string) (*models.Member, error) {
	ctx = ensureContext(ctx)

	actor, err := s.loadMember(ctx, s.db, orgID, actorID)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	if !permissions.HasCapability(actor.Subject(), permissions.CapabilityViewOrganization) {
		return nil, ErrMissingCapability
	}

	return s.loadMember(ctx, s.db, orgID, userID)
}

// Update changes a member's role and brand scope. Role changes run under the
// escalation guard: no self-changes, and a non-wildcard actor can only modify
// lower-ranked members and assign roles at or below their own rank.
func (s *MemberService) Update(ctx context.Context, orgID, targetUserID, actorID string, input UpdateMemberInput) (*models.Member, error) {
	ctx = ensureContext(ctx)

	target := &models.Member{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := s.loadMember(ctx, tx, orgID, actorID)
		if err != nil {
			if errors.Is(err, ErrMemberNotFound) {
				return ErrNotMember
			}
			return err
		}
		if !permissions.HasCapability(actor.Subject(), permissions.CapabilityManageMembers) {
			return ErrMissingCapability
		}

		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(target, "organization_id = ? AND user_id = ?", orgID, targetUserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMemberNotFound
		}
		if err != nil {
			return fmt.Errorf("load target: %w", err)
		}

		updates := map[string]any{}

		if input.Role != nil {
			newRole := *input.Role
			if !permissions.ValidRole(newRole) {
				return ErrInvalidRole
			}
			if newRole != target.Role {
				if actorID == targetUserID {
					return ErrSelfRoleChange
				}
				actorSubject := actor.Subject()
				if !permissions.CanModifyMemberRole(actorSubject, target.Subject()) {
					return ErrEscalationDenied
				}
				if !permissions.HasWildcard(actorSubject) &&
					permissions.Rank(newRole) > permissions.Rank(actor.Role) {
					return ErrEscalationDenied
				}
				if target.Role == permissions.RoleOwner {
					if err := s.ensureAnotherOwner(tx, orgID, targetUserID); err != nil {
						return err
					}
				}
				updates["role"] = newRole
				target.Role = newRole
			}
		}

		if input.BrandAccessAll != nil {
			updates["brand_access_all"] = *input.BrandAccessAll
			target.BrandAccessAll = *input.BrandAccessAll
		}
		if input.BrandIDs != nil {
			if err := target.SetBrandList(input.BrandIDs); err != nil {
				return fmt.Errorf("encode brand ids: %w", err)
			}
			updates["brand_ids"] = target.BrandIDs
		}
		if input.AutoGrantNewBrands != nil {
			updates["auto_grant_new_brands"] = *input.AutoGrantNewBrands
			target.AutoGrantNewBrands = *input.AutoGrantNewBrands
		}

		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(target).Updates(updates).Error; err != nil {
			return fmt.Errorf("update member: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.syncClaims(ctx, targetUserID)
	return target, nil
}

// Remove deletes a membership record. Members may remove themselves; removing
// anyone else requires the manage capability and a higher rank (or wildcard).
// The last owner cannot leave.
func (s *MemberService) Remove(ctx context.Context, orgID, targetUserID, actorID string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := s.loadMember(ctx, tx, orgID, actorID)
		if err != nil {
			if errors.Is(err, ErrMemberNotFound) {
				return ErrNotMember
			}
			return err
		}

		var target models.Member
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&target, "organization_id = ? AND user_id = ?", orgID, targetUserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMemberNotFound
		}
		if err != nil {
			return fmt.Errorf("load target: %w", err)
		}

		if actorID != targetUserID {
			if !permissions.HasCapability(actor.Subject(), permissions.CapabilityManageMembers) {
				return ErrMissingCapability
			}
			if !permissions.CanModifyMemberRole(actor.Subject(), target.Subject()) {
				return ErrEscalationDenied
			}
		}

		if target.Role == permissions.RoleOwner {
			if err := s.ensureAnotherOwner(tx, orgID, targetUserID); err != nil {
				return err
			}
		}

		return tx.Delete(&target).Error
	})
	if err != nil {
		return err
	}

	s.syncClaims(ctx, targetUserID)
	return nil
}

func (s *MemberService) loadMember(ctx context.Context, db *gorm.DB, orgID, userID string) (*models.Member, error) {
	var member models.Member
	err := db.WithContext(ctx).
		First(&member, "organization_id = ? AND user_id = ?", orgID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("member service: load member: %w", err)
	}
	return &member, nil
}

func (s *MemberService) ensureAnotherOwner(tx *gorm.DB, orgID, excludeUserID string) error {
	var owners int64
	if err := tx.Model(&models.Member{}).
		Where("organization_id = ? AND role = ? AND user_id <> ?",
			orgID, permissions.RoleOwner, excludeUserID).
		Count(&owners).Error; err != nil {
		return fmt.Errorf("count owners: %w", err)
	}
	if owners == 0 {
		return ErrLastOwnerRemoval
	}
	return nil
}

func (s *MemberService) syncClaims(ctx context.Context, userID string) {
	if s.syncer == nil {
		return
	}
	if err := s.syncer.SyncClaims(ctx, userID); err != nil {
		s.log.Warn("claims sync failed", zap.String("user_id", userID), zap.Error(err))
	}
}
