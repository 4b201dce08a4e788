package repository

import (
	"github.com/BridgeToWork/BridgeToWork/app/models"
	"gorm.io/gorm"
)

// productRepository implements the ProductRepository interface
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository instance
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// GetByID retrieves a product by its ID
func (r *productRepository) GetByID(id string) (*models.Product, error) {
	var product models.Product
	err := r.db.First(&product, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListActive returns all products available for purchase
func (r *productRepository) ListActive() ([]models.Product, error) {
	var products []models.Product
	err := r.db.Where("is_active = ?", true).Order("name ASC").Find(&products).Error
	return products, err
}

// Create inserts a new catalog product
func (r *productRepository) Create(product *models.Product) error {
	return r.db.Create(product).Error
}
