package models

import "time"

type Restaurant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	OwnerID   uint      `gorm:"not null;index" json:"ownerId"`
	Owner     User      `gorm:"foreignKey:OwnerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Address   *string   `gorm:"type:varchar(255)" json:"address,omitempty"`
	Phone     *string   `gorm:"type:varchar(50)" json:"phone,omitempty"`
	Tables    []Table   `gorm:"foreignKey:RestaurantID" json:"tables,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
