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
	"github.com/crowdlinkhq/crowdlink/pkg/logger"
)

// ErrEmptyName indicates a blank organization or brand name.
var ErrEmptyName = errors.New("organization: name must not be empty")

// OrganizationOption customises OrganizationService behaviour.
type OrganizationOption func(*OrganizationService)

// WithOrganizationClock injects a custom clock primarily for testing.
func WithOrganizationClock(clock func() time.Time) OrganizationOption {
	return func(s *OrganizationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// OrganizationService creates organizations with their founding owner and
// manages brands, including the auto-grant fan-out to scoped members.
type OrganizationService struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewOrganizationService constructs an OrganizationService.
func NewOrganizationService(db *gorm.DB, opts ...OrganizationOption) (*OrganizationService, error) {
	if db == nil {
		return nil, errors.New("organization service: db is required")
	}
	service := &OrganizationService{
		db:  db,
		now: time.Now,
		log: logger.WithModule("organizations"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create provisions an organization and enrolls the creator as its owner with
// access to all brands.
func (s *OrganizationService) Create(ctx context.Context, name, creatorID, creatorEmail string) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	org := &models.Organization{Name: name}
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return fmt.Errorf("create organization: %w", err)
		}

		owner := models.Member{
			OrganizationID:     org.ID,
			UserID:             creatorID,
			Role:               permissions.RoleOwner,
			BrandAccessAll:     true,
			AutoGrantNewBrands: true,
		}
		if err := tx.Create(&owner).Error; err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}

		user := models.User{ID: creatorID, Email: creatorEmail, LastSeenAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "last_seen_at"}),
		}).Create(&user).Error; err != nil {
			return fmt.Errorf("upsert creator profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("organization_id", org.ID),
		zap.String("created_by", creatorID),
	)
	return org, nil
}

// Get returns the organization for a member holding the view capability.
func (s *OrganizationService) Get(ctx context.Context, orgID, actorID string) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	if err := s.requireCapability(ctx, orgID, actorID, permissions.CapabilityViewOrganization); err != nil {
		return nil, err
	}

	var org models.Organization
	err := s.db.WithContext(ctx).First(&org, "id = ?", orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("organization service: load organization: %w", err)
	}
	return &org, nil
}

// CreateBrand adds a brand and extends the scoped brand list of every member
// flagged for auto-grant. Members with all-brands access need no grant.
func (s *OrganizationService) CreateBrand(ctx context.Context, orgID, actorID, name string) (*models.Brand, error) {
	ctx = ensureContext(ctx)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	if err := s.requireCapability(ctx, orgID, actorID, permissions.CapabilityManageBrands); err != nil {
		return nil, err
	}

	brand := &models.Brand{OrganizationID: orgID, Name: name}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		err := tx.First(&org, "id = ?", orgID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrganizationNotFound
		}
		if err != nil {
			return fmt.Errorf("load organization: %w", err)
		}

		if err := tx.Create(brand).Error; err != nil {
			return fmt.Errorf("create brand: %w", err)
		}

		var grantees []models.Member
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("organization_id = ? AND auto_grant_new_brands = ? AND brand_access_all = ?",
				orgID, true, false).
			Find(&grantees).Error; err != nil {
			return fmt.Errorf("load auto-grant members: %w", err)
		}

		for i := range grantees {
			member := &grantees[i]
			ids := member.BrandList()
			ids = append(ids, brand.ID)
			if err := member.SetBrandList(ids); err != nil {
				return fmt.Errorf("encode brand ids: %w", err)
			}
			if err := tx.Model(member).Update("brand_ids", member.BrandIDs).Error; err != nil {
				return fmt.Errorf("grant brand access: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return brand, nil
}

// ListBrands returns the organization's brands for a member with view access.
func (s *OrganizationService) ListBrands(ctx context.Context, orgID, actorID string) ([]models.Brand, error) {
	ctx = ensureContext(ctx)

	if err := s.requireCapability(ctx, orgID, actorID, permissions.CapabilityViewOrganization); err != nil {
		return nil, err
	}

	var brands []models.Brand
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at ASC").
		Find(&brands).Error; err != nil {
		return nil, fmt.Errorf("organization service: list brands: %w", err)
	}
	return brands, nil
}

func (s *OrganizationService) requireCapability(ctx context.Context, orgID, actorID string, capability permissions.Capability) error {
	var member models.Member
	err := s.db.WithContext(ctx).
		First(&member, "organization_id = ? AND user_id = ?", orgID, actorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotMember
	}
	if err != nil {
		return fmt.Errorf("organization service: load membership: %w", err)
	}
	if !permissions.HasCapability(member.Subject(), capability) {
		return ErrMissingCapability
	}
	return nil
}
