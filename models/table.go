package models

import "time"

const (
	ShapeSquare = "square"
	ShapeRound  = "round"
)

// Position is the floor-plan placement of a table. It is embedded into the
// tables row with a pos_ prefix.
type Position struct {
	X      float64 `gorm:"default:0" json:"x"`
	Y      float64 `gorm:"default:0" json:"y"`
	Width  float64 `gorm:"default:80" json:"width"`
	Height float64 `gorm:"default:80" json:"height"`
	Shape  string  `gorm:"type:varchar(10);default:'square'" json:"shape"`
}

type Table struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	RestaurantID uint       `gorm:"not null;index" json:"restaurantId"`
	Restaurant   Restaurant `gorm:"foreignKey:RestaurantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Name         string     `gorm:"type:varchar(100);not null" json:"name"`
	QRCode       string     `gorm:"type:text" json:"qrCode"`
	Position     Position   `gorm:"embedded;embeddedPrefix:pos_" json:"position"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}
