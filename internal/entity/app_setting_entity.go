package entity

import "time"

type AppSetting struct {
	Key       string
	Value     []byte // raw JSON document
	UpdatedAt time.Time
}
