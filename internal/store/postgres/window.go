package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// window appends the created_at bounds, newest-first ordering and paging of
// opts to a query whose WHERE clause already binds len(args) parameters.
func window(query string, args []any, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(query)
	bind := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, clause, len(args))
	}
	if opts.Since != nil {
		bind(" AND created_at >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		bind(" AND created_at <= $%d", *opts.Until)
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		bind(" LIMIT $%d", opts.Limit)
	}
	if opts.Offset > 0 {
		bind(" OFFSET $%d", opts.Offset)
	}
	return b.String(), args
}
