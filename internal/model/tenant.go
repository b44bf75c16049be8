package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant represents an isolated customer boundary. All protected data
// belongs to exactly one tenant.
//
// This table is exempt from the row isolation policy: resolving which
// tenant a slug belongs to must be possible before any tenant context
// exists. The core treats tenants as read-only; provisioning happens
// elsewhere.
type Tenant struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Slug      string    `json:"slug" gorm:"type:varchar(100);uniqueIndex;not null"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the tenant id when not provided
func (t *Tenant) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
