package database

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Querier abstracts *sql.DB / *sql.Tx for the raw reconciliation scans.
type Querier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// FaceRef is the minimal face projection the reconciler works with.
type FaceRef struct {
	ID        string
	Path      string
	CreatedAt int64
}

// ListFaceRefs returns id, blob path and creation time for every face row.
// The reconciler compares this set against the vector index and the blob
// store without loading full GORM models.
func ListFaceRefs(db Querier) ([]FaceRef, error) {
	queryBuilder := psql.Select("id", "path", "created_at").
		From("faces").
		OrderBy("created_at ASC")
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for ListFaceRefs: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute ListFaceRefs query: %w", err)
	}
	defer rows.Close()

	var refs []FaceRef
	for rows.Next() {
		var ref FaceRef
		if err := rows.Scan(&ref.ID, &ref.Path, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan face ref row: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
