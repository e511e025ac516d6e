package services

import (
	"context"
	"strings"

	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/utils"
	"gorm.io/gorm"
)

type RestaurantService struct {
	DB *gorm.DB
}

func NewRestaurantService(db *gorm.DB) *RestaurantService {
	return &RestaurantService{DB: db}
}

func (s *RestaurantService) List(ctx context.Context, p Principal) ([]models.Restaurant, error) {
	restaurants := []models.Restaurant{}
	q := s.DB.WithContext(ctx).Order("id")
	switch p.Role {
	case models.RoleOwner:
		q = q.Where("owner_id = ?", p.UserID)
	case models.RoleStaff:
		q = q.Where("id = ?", p.RestaurantID)
	default:
		return restaurants, nil
	}
	return restaurants, q.Find(&restaurants).Error
}

type RestaurantInput struct {
	Name    *string
	Address *string
	Phone   *string
}

func (s *RestaurantService) Create(ctx context.Context, p Principal, in RestaurantInput) (models.Restaurant, error) {
	if p.Role != models.RoleOwner {
		return models.Restaurant{}, utils.Forbidden("only owners can create restaurants")
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return models.Restaurant{}, utils.Validation("restaurant name is required")
	}
	r := models.Restaurant{
		Name:    strings.TrimSpace(*in.Name),
		OwnerID: p.UserID,
		Address: normalizeText(in.Address),
		Phone:   normalizeText(in.Phone),
	}
	if err := s.DB.WithContext(ctx).Create(&r).Error; err != nil {
		return models.Restaurant{}, err
	}
	return r, nil
}

func (s *RestaurantService) Update(ctx context.Context, p Principal, id uint, in RestaurantInput) (models.Restaurant, error) {
	r, err := s.Get(ctx, p, id)
	if err != nil {
		return r, err
	}
	if p.Role != models.RoleOwner {
		return models.Restaurant{}, utils.Forbidden("only the owner can edit restaurant details")
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return models.Restaurant{}, utils.Validation("restaurant name cannot be empty")
		}
		r.Name = name
	}
	if in.Address != nil {
		r.Address = normalizeText(in.Address)
	}
	if in.Phone != nil {
		r.Phone = normalizeText(in.Phone)
	}
	if err := s.DB.WithContext(ctx).Save(&r).Error; err != nil {
		return models.Restaurant{}, err
	}
	return r, nil
}

// Get loads a restaurant the principal may act on. Restaurants belonging to
// someone else are reported as missing.
func (s *RestaurantService) Get(ctx context.Context, p Principal, id uint) (models.Restaurant, error) {
	var r models.Restaurant
	if err := s.DB.WithContext(ctx).First(&r, id).Error; err != nil {
		return r, notFoundOr(err, "restaurant", id)
	}
	if !p.CanAccess(r) {
		return models.Restaurant{}, utils.NotFound("restaurant %d not found", id)
	}
	return r, nil
}
