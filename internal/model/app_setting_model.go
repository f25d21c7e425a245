package model

import (
	"time"

	"gorm.io/datatypes"
)

type AppSetting struct {
	Key       string         `gorm:"type:varchar(100);primaryKey"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
}

func (AppSetting) TableName() string {
	return "app_settings"
}
