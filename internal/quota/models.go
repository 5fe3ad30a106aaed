package quota

import "time"

// UserCapacity is the remaining-request counter of a signed-in user.
type UserCapacity struct {
	UserID    string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Capacity  int       `gorm:"not null" json:"capacity"`
	CreatedOn time.Time `gorm:"autoCreateTime" json:"created_on"`
}

func (UserCapacity) TableName() string { return "user_capacity" }

// IPCapacity is the remaining-request counter of an anonymous client.
type IPCapacity struct {
	IPAddress string    `gorm:"primaryKey;type:varchar(64)" json:"ip_address"`
	Count     int       `gorm:"not null" json:"count"`
	CreatedOn time.Time `gorm:"autoCreateTime" json:"created_on"`
}

func (IPCapacity) TableName() string { return "ips" }
