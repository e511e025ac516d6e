package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Principal is the authenticated staff member or owner behind a request.
type Principal struct {
	UserID       uint
	Username     string
	Role         string
	RestaurantID uint
}

// CanAccess reports whether the principal may act on the restaurant.
func (p Principal) CanAccess(r models.Restaurant) bool {
	switch p.Role {
	case models.RoleOwner:
		return r.OwnerID == p.UserID
	case models.RoleStaff:
		return p.RestaurantID != 0 && p.RestaurantID == r.ID
	}
	return false
}

type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

type RegisterInput struct {
	Username       string
	Password       string
	Email          string
	RestaurantName string
}

// Register creates an owner account together with its first restaurant.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (models.User, models.Restaurant, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || len(in.Password) < 6 {
		return models.User{}, models.Restaurant{}, utils.Validation("username is required and password needs at least 6 characters")
	}
	restaurantName := strings.TrimSpace(in.RestaurantName)
	if restaurantName == "" {
		restaurantName = username + "'s restaurant"
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, models.Restaurant{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{Username: username, Email: strings.TrimSpace(in.Email), Password: string(hashed), Role: models.RoleOwner}
	var restaurant models.Restaurant
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUsernameFree(tx, username); err != nil {
			return err
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		restaurant = models.Restaurant{Name: restaurantName, OwnerID: user.ID}
		return tx.Create(&restaurant).Error
	})
	if err != nil {
		return models.User{}, models.Restaurant{}, err
	}

	utils.InfoLogger.Printf("New owner registered: %s (restaurant=%d)", user.Username, restaurant.ID)
	return user, restaurant, nil
}

// CreateStaff adds a staff account bound to one restaurant.
func (s *UserService) CreateStaff(ctx context.Context, restaurantID uint, username, password, email string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 6 {
		return models.User{}, utils.Validation("username is required and password needs at least 6 characters")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Username:     username,
		Email:        strings.TrimSpace(email),
		Password:     string(hashed),
		Role:         models.RoleStaff,
		RestaurantID: &restaurantID,
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUsernameFree(tx, username); err != nil {
			return err
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return models.User{}, err
	}
	utils.InfoLogger.Printf("New staff registered: %s (restaurant=%d)", user.Username, restaurantID)
	return user, nil
}

func (s *UserService) ensureUsernameFree(tx *gorm.DB, username string) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return utils.Conflict("username %q is already taken", username)
	}
	return nil
}

// Authenticate checks credentials. Unknown users and wrong passwords fail the
// same way.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, utils.Unauthorized("invalid credentials")
	}
	if err != nil {
		return models.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return models.User{}, utils.Unauthorized("invalid credentials")
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id uint) (models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, id).Error; err != nil {
		return user, notFoundOr(err, "user", id)
	}
	return user, nil
}

// PrincipalFor builds the principal carried in tokens for this user.
func PrincipalFor(user models.User) Principal {
	p := Principal{UserID: user.ID, Username: user.Username, Role: user.Role}
	if user.RestaurantID != nil {
		p.RestaurantID = *user.RestaurantID
	}
	return p
}
