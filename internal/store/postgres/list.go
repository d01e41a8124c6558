package postgres

import (
	"fmt"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// appendListOpts grows a SELECT with the time-range, ordering, limit, and
// offset clauses that domain.ListOpts describes. Placeholders continue from
// whatever args already holds, so callers with leading filters keep their
// numbering. timeCol is the table's event-time column; results always come
// back newest first.
func appendListOpts(query string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	idx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, idx)
		args = append(args, *opts.Since)
		idx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, idx)
		args = append(args, *opts.Until)
		idx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, opts.Limit)
		idx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, opts.Offset)
	}
	return query, args
}
