package implementation

import (
	"context"
	"errors"

	"business-copilot-be/internal/entity"
	"business-copilot-be/internal/mapper"
	"business-copilot-be/internal/model"
	"business-copilot-be/internal/repository/contract"

	"gorm.io/gorm"
)

type SettingRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChatMapper
}

func NewSettingRepository(db *gorm.DB) contract.SettingRepository {
	return &SettingRepositoryImpl{
		db:     db,
		mapper: mapper.NewChatMapper(),
	}
}

func (r *SettingRepositoryImpl) Get(ctx context.Context, key string) (*entity.AppSetting, error) {
	var m model.AppSetting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.AppSettingToEntity(&m), nil
}
