package contract

import (
	"context"

	"business-copilot-be/internal/entity"
)

type SettingRepository interface {
	Get(ctx context.Context, key string) (*entity.AppSetting, error)
}
