package client

import "gorm.io/gorm"

// Repository persists registered clients.
type Repository interface {
	Create(c *Client) error
	FindByClientID(clientID string) (*Client, error)
	Update(c *Client) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(c *Client) error {
	return r.db.Create(c).Error
}

func (r *repository) FindByClientID(clientID string) (*Client, error) {
	var c Client
	if err := r.db.Where("client_id = ?", clientID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) Update(c *Client) error {
	return r.db.Save(c).Error
}
