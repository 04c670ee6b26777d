package models

// Face represents a registered face crop owned by exactly one Person, using
// GORM. It corresponds to the 'faces' table.
//
// The embedding vector for a face is not stored here; it lives in the
// vector index keyed by this row's ID.
type Face struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"` // UUID, generated by the repository
	PersonID  uint   `gorm:"not null;index" json:"person_id"`
	Path      string `gorm:"not null" json:"path"`       // relative blob path in the media store
	CreatedAt int64  `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
	UpdatedAt int64  `gorm:"not null" json:"updated_at"` // Stored as INTEGER in SQLite, Unix timestamp

	Person *Person `gorm:"foreignKey:PersonID" json:"person,omitempty"` // Belongs to Person
}

// TableName explicitly sets the table name for GORM.
func (Face) TableName() string {
	return "faces"
}
