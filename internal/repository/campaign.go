package repository

import (
	"context"

	"dealflow/internal/model"

	"gorm.io/gorm"
)

type CampaignInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
}

type CampaignRepository struct {
	db *gorm.DB
}

func NewCampaignRepository(db *gorm.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	var c model.Campaign
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

type ContactInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Contact, error)
	FindByEmail(ctx context.Context, email string) (*model.Contact, error)
}

type ContactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) GetByID(ctx context.Context, id int64) (*model.Contact, error) {
	var c model.Contact
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) FindByEmail(ctx context.Context, email string) (*model.Contact, error) {
	var c model.Contact
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

type CompanyInterface interface {
	UpdateStatus(ctx context.Context, id int64, status string) error
}

type CompanyRepository struct {
	db *gorm.DB
}

func NewCompanyRepository(db *gorm.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

func (r *CompanyRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).Model(&model.Company{}).Where("id = ?", id).
		Update("status", status).Error
}
