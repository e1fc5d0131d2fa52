package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Customer mirrors a Square customer profile. Email is unique so checkout and
// webhook flows converge on one row per buyer.
type Customer struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	SquareCustomerID string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_customers_square_customer_id" json:"square_customer_id"`
	Email            *string        `gorm:"type:varchar(200);uniqueIndex:ux_customers_email" json:"email,omitempty"`
	GivenName        string         `gorm:"type:varchar(150);default:''" json:"given_name"`
	FamilyName       string         `gorm:"type:varchar(150);default:''" json:"family_name"`
	CompanyName      string         `gorm:"type:varchar(191);default:''" json:"company_name,omitempty"`
	Phone            string         `gorm:"type:varchar(32);default:''" json:"phone,omitempty"`
	AddressLine1     string         `gorm:"type:varchar(255);default:''" json:"address_line_1,omitempty"`
	AddressLine2     string         `gorm:"type:varchar(255);default:''" json:"address_line_2,omitempty"`
	Locality         string         `gorm:"type:varchar(100);default:''" json:"locality,omitempty"`
	Region           string         `gorm:"type:varchar(100);default:''" json:"region,omitempty"`
	PostalCode       string         `gorm:"type:varchar(20);default:''" json:"postal_code,omitempty"`
	Country          string         `gorm:"type:char(2);default:''" json:"country,omitempty"`
	RemoteVersion    int64          `gorm:"not null;default:0" json:"remote_version"`
	SyncStatus       string         `gorm:"type:varchar(20);not null;default:'pending'" json:"sync_status"`
	SyncedAt         *time.Time     `gorm:"type:timestamp;default:null" json:"synced_at,omitempty"`
	Version          int64          `gorm:"not null;default:1" json:"-"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// EmailAddress returns the stored email or "".
func (c *Customer) EmailAddress() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// SetEmail stores the normalised address; an empty address clears it.
func (c *Customer) SetEmail(email string) {
	email = NormalizeEmail(email)
	if email == "" {
		c.Email = nil
		return
	}
	c.Email = &email
}

// NormalizeEmail lower-cases and trims an address for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
