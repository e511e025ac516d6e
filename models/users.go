package models

import "time"

const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Email    string `gorm:"type:varchar(255)" json:"email"`
	Password string `gorm:"type:varchar(255);not null" json:"-"`
	Role     string `gorm:"type:varchar(20);not null;default:'owner'" json:"role"`
	// RestaurantID binds a staff account to the restaurant it works for.
	// Owners reach their restaurants through Restaurant.OwnerID instead.
	RestaurantID *uint     `gorm:"index" json:"restaurantId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
