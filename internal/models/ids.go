package models

import (
	"database/sql/driver"

	"github.com/google/uuid"
)

// UserID identifies a row in users. It is deliberately a distinct type from
// AffiliateProfileID: a transaction's affiliate reference holds a UserID,
// while AffiliateConversion.AffiliateID holds an AffiliateProfileID, and the
// compiler keeps the two from being swapped.
type UserID uuid.UUID

// AffiliateProfileID identifies a row in affiliate_profiles.
type AffiliateProfileID uuid.UUID

// NewUserID returns a random UserID
func NewUserID() UserID { return UserID(uuid.New()) }

// NewAffiliateProfileID returns a random AffiliateProfileID
func NewAffiliateProfileID() AffiliateProfileID { return AffiliateProfileID(uuid.New()) }

// ParseUserID parses the canonical string form of a UserID
func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	return UserID(id), err
}

// ParseAffiliateProfileID parses the canonical string form of an AffiliateProfileID
func ParseAffiliateProfileID(s string) (AffiliateProfileID, error) {
	id, err := uuid.Parse(s)
	return AffiliateProfileID(id), err
}

func (id UserID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is unset
func (id UserID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// GormDataType keeps the column type uuid on every dialect
func (UserID) GormDataType() string { return "uuid" }

// Value implements driver.Valuer
func (id UserID) Value() (driver.Value, error) { return uuid.UUID(id).Value() }

// Scan implements sql.Scanner
func (id *UserID) Scan(src interface{}) error { return (*uuid.UUID)(id).Scan(src) }

// MarshalText implements encoding.TextMarshaler
func (id UserID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

// UnmarshalText implements encoding.TextUnmarshaler
func (id *UserID) UnmarshalText(data []byte) error { return (*uuid.UUID)(id).UnmarshalText(data) }

func (id AffiliateProfileID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is unset
func (id AffiliateProfileID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// GormDataType keeps the column type uuid on every dialect
func (AffiliateProfileID) GormDataType() string { return "uuid" }

// Value implements driver.Valuer
func (id AffiliateProfileID) Value() (driver.Value, error) { return uuid.UUID(id).Value() }

// Scan implements sql.Scanner
func (id *AffiliateProfileID) Scan(src interface{}) error { return (*uuid.UUID)(id).Scan(src) }

// MarshalText implements encoding.TextMarshaler
func (id AffiliateProfileID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

// UnmarshalText implements encoding.TextUnmarshaler
func (id *AffiliateProfileID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}
