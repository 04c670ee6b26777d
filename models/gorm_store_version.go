package models

// StoreVersion is a single-row table holding a monotonic change counter.
// Every tracked insert/update/delete against Person or Face bumps Version by
// exactly one; external consumers use it for cache invalidation.
type StoreVersion struct {
	ID      uint  `gorm:"primaryKey" json:"id"`
	Version int64 `gorm:"not null;default:0" json:"version"`
}

// StoreVersionRowID is the fixed primary key of the singleton counter row.
const StoreVersionRowID uint = 1

// TableName explicitly sets the table name for GORM.
func (StoreVersion) TableName() string {
	return "store_version"
}
