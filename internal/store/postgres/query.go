package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// listQuery appends the ListOpts time window, ordering and paging to a
// SELECT whose WHERE clause already binds len(args) parameters.
func listQuery(base string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	next := len(args) + 1

	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= $%d", timeCol, next)
		args = append(args, *opts.Since)
		next++
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= $%d", timeCol, next)
		args = append(args, *opts.Until)
		next++
	}

	fmt.Fprintf(&b, " ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT $%d", next)
		args = append(args, opts.Limit)
		next++
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET $%d", next)
		args = append(args, opts.Offset)
	}
	return b.String(), args
}
