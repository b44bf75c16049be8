package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents an authenticated principal. The id matches the
// identity provider's subject claim; rows are created and updated only
// by the credential verifier's synchronization step, never deleted by
// this service.
type User struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Email          string    `json:"email" gorm:"type:varchar(320);not null"`
	HashedPassword string    `json:"-" gorm:"type:varchar(1024);not null;default:''"` // unused, credentials live at the identity provider
	Active         bool      `json:"active" gorm:"default:true"`
	Verified       bool      `json:"verified" gorm:"default:true"`
	TenantID       uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Relations
	Tenant Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}
