package models

import "time"

// Record is one key of the record store when it is backed by SQL.
type Record struct {
	Key       string    `gorm:"type:varchar(128);primaryKey" json:"key"`
	Value     []byte    `gorm:"type:blob;not null" json:"value"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Record) TableName() string { return "records" }
