package models

// Person represents a registered identity in the database using GORM.
// It corresponds to the 'people' table.
//
// Name is nullable: a nil name denotes an anonymous identity created by
// open-set search before anyone labeled it. NormalizedName holds the
// lower-cased, whitespace-collapsed form of Name and backs
// case/spacing-insensitive lookups.
type Person struct {
	ID             uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           *string `json:"name"`
	NormalizedName *string `gorm:"index" json:"-"`
	KeyFaceID      *string `gorm:"size:36" json:"key_face_id,omitempty"`
	IsHidden       bool    `gorm:"not null;default:false" json:"is_hidden"`
	IsDeleted      bool    `gorm:"not null;default:false;index" json:"-"`
	CreatedAt      int64   `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
	UpdatedAt      int64   `gorm:"not null" json:"updated_at"` // Stored as INTEGER in SQLite, Unix timestamp

	// Relationships
	// a Person exclusively owns its Faces; hard-deleting the person removes them
	Faces []Face `gorm:"foreignKey:PersonID;constraint:OnDelete:CASCADE" json:"faces,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Person) TableName() string {
	return "people"
}
