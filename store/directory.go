package store

import (
	"context"
	"fmt"

	"distfs/columnstore"
)

// maxListingRows is the result-set size cap from the directory index spec:
// implementations must not silently truncate a larger result, so a
// truncated reply becomes an explicit error rather than a partial list.
const maxListingRows = 100000

// ListSubPaths returns the immediate children of path: a shallow listing
// via the equality query sentinel == 'x' AND parent_path == path.
func (s *Store) ListSubPaths(ctx context.Context, path string) ([]string, error) {
	reply, err := s.client.GetIndexedSlices(ctx, &columnstore.GetIndexedSlicesArgs{
		ColumnFamily: s.pool.InodeColumnFamily(),
		Expressions: []columnstore.IndexExpression{
			{Column: []byte(columnstore.ColumnSentinel), Op: columnstore.IndexEQ, Value: []byte(columnstore.SentinelValue)},
			{Column: []byte(columnstore.ColumnParentPath), Op: columnstore.IndexEQ, Value: []byte(path)},
		},
		ProjectColumn: []byte(columnstore.ColumnPath),
		RowLimit:      maxListingRows,
		Consistency:   s.policy.Read(),
	})
	if err != nil {
		return nil, fmt.Errorf("store: listSubPaths(%s): %w", path, err)
	}
	if reply.Truncated {
		return nil, fmt.Errorf("store: listSubPaths(%s): result set exceeds %d rows", path, maxListingRows)
	}
	return rowValues(reply.Rows), nil
}

// ListDeepSubPaths returns every descendant of path (not just immediate
// children): a range query sentinel == 'x' AND path > path AND path <
// successor(path). Because the range's upper bound is derived by
// incrementing the prefix's last byte rather than matching "path/" exactly,
// a sibling whose name shares that truncated prefix (e.g. listing "/p" also
// matching "/pa/...") will be included; callers must filter by actual
// path prefix if that distinction matters to them.
func (s *Store) ListDeepSubPaths(ctx context.Context, path string) ([]string, error) {
	high := successor(path)

	reply, err := s.client.GetIndexedSlices(ctx, &columnstore.GetIndexedSlicesArgs{
		ColumnFamily: s.pool.InodeColumnFamily(),
		Expressions: []columnstore.IndexExpression{
			{Column: []byte(columnstore.ColumnSentinel), Op: columnstore.IndexEQ, Value: []byte(columnstore.SentinelValue)},
			{Column: []byte(columnstore.ColumnPath), Op: columnstore.IndexGT, Value: []byte(path)},
			{Column: []byte(columnstore.ColumnPath), Op: columnstore.IndexLT, Value: []byte(high)},
		},
		ProjectColumn: []byte(columnstore.ColumnPath),
		RowLimit:      maxListingRows,
		Consistency:   s.policy.Read(),
	})
	if err != nil {
		return nil, fmt.Errorf("store: listDeepSubPaths(%s): %w", path, err)
	}
	if reply.Truncated {
		return nil, fmt.Errorf("store: listDeepSubPaths(%s): result set exceeds %d rows", path, maxListingRows)
	}
	return rowValues(reply.Rows), nil
}

// successor returns path with its last byte replaced by the next code
// point, matching the upper bound the deep-listing range query requires.
func successor(path string) string {
	if path == "" {
		return ""
	}
	b := []byte(path)
	b[len(b)-1]++
	return string(b)
}

func rowValues(rows []columnstore.IndexedRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r.Value)
	}
	return out
}
