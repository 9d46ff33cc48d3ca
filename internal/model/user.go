package model

import "time"

type User struct {
	UID         string    `gorm:"column:uid;primaryKey;size:128" json:"uid"`
	DisplayName string    `gorm:"column:display_name;size:120" json:"displayName"`
	IconURL     *string   `gorm:"column:icon_url;size:512" json:"iconUrl"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
