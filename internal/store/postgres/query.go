package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// listQuery appends the time window, ordering and pagination of opts to a
// SELECT whose WHERE clause is already open.
func listQuery(base, timeCol, order string, opts domain.ListOpts, args []any) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		b.WriteString(" AND " + timeCol + " >= " + arg(*opts.Since))
	}
	if opts.Until != nil {
		b.WriteString(" AND " + timeCol + " < " + arg(*opts.Until))
	}
	b.WriteString(" ORDER BY " + order)
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + arg(opts.Offset))
	}
	return b.String(), args
}
