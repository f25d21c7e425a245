package permission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormOracle resolves principals from the permission tables owned by the
// core platform (capability grants plus the manager hierarchy). The closure
// over managed users is one level deep here, matching how the platform
// flattens the hierarchy on write.
type GormOracle struct {
	db *gorm.DB
}

func NewGormOracle(db *gorm.DB) *GormOracle {
	return &GormOracle{db: db}
}

func (o *GormOracle) Resolve(ctx context.Context, userID uuid.UUID) (*Principal, error) {
	var caps []string
	if err := o.db.WithContext(ctx).
		Table("user_capabilities").
		Where("user_id = ?", userID).
		Pluck("capability", &caps).Error; err != nil {
		return nil, fmt.Errorf("resolve capabilities: %w", err)
	}

	var managed []uuid.UUID
	if err := o.db.WithContext(ctx).
		Table("user_managers").
		Where("manager_id = ?", userID).
		Pluck("user_id", &managed).Error; err != nil {
		return nil, fmt.Errorf("resolve managed users: %w", err)
	}

	return &Principal{
		ID:             userID,
		Capabilities:   caps,
		ManagedUserIDs: managed,
	}, nil
}
