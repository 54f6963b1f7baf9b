package entity

import "time"

// Account 登录账号。Password 存 bcrypt 哈希，永不回传
type Account struct {
	Id        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Uuid      string    `gorm:"column:uuid;type:char(36);uniqueIndex:idx_nexus_account_uuid"`
	Username  string    `gorm:"column:username;type:varchar(32);uniqueIndex:idx_nexus_account_username"`
	Nickname  string    `gorm:"column:nickname;type:varchar(32)"`
	Password  string    `gorm:"column:password;type:varchar(100);not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:datetime;not null"`
}

func (Account) TableName() string { return "nexus_account" }
