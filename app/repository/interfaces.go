package repository

import (
	"github.com/BridgeToWork/BridgeToWork/app/models"
	"gorm.io/gorm"
)

// UserRepository defines database operations for users
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
}

// ProductRepository defines database operations for catalog products
type ProductRepository interface {
	GetByID(id string) (*models.Product, error)
	ListActive() ([]models.Product, error)
	Create(product *models.Product) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User    UserRepository
	Product ProductRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		Product: NewProductRepository(db),
	}
}
