package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrNoLines is returned when the routes table yields no usable line reference.
var ErrNoLines = errors.New("no numeric routes found")

// FetchLineRefs reads the GTFS routes table and returns the sorted, distinct
// numeric line references the SIRI endpoint accepts as LineRef. agencyID
// narrows the catalog when the table has an agency_id column.
func FetchLineRefs(ctx context.Context, db *sql.DB, agencyID string) ([]int, error) {
	cols, err := hasColumns(ctx, db, "public", "routes", "route_short_name", "agency_id")
	if err != nil {
		return nil, fmt.Errorf("introspect routes columns: %w", err)
	}

	short := "''"
	if cols["route_short_name"] {
		short = "COALESCE(route_short_name, '')"
	}
	q := `SELECT route_id, ` + short + ` FROM routes`
	var args []any
	agencyID = strings.TrimSpace(agencyID)
	if agencyID != "" {
		if !cols["agency_id"] {
			return nil, fmt.Errorf("routes table has no agency_id column to filter %q", agencyID)
		}
		q += ` WHERE agency_id = $1`
		args = append(args, agencyID)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var refs []int
	for rows.Next() {
		var routeID, shortName string
		if err := rows.Scan(&routeID, &shortName); err != nil {
			return nil, err
		}
		if ref, ok := LineRef(routeID, shortName); ok {
			refs = append(refs, ref)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	refs = Distinct(refs)
	if len(refs) == 0 {
		return nil, ErrNoLines
	}
	return refs, nil
}

// LineRef extracts the numeric line reference of a route. OneBusAway ids
// carry an agency prefix ("TASRUD_42"); the part after the last underscore is
// used. The short name is the fallback when the id is not numeric.
func LineRef(routeID, shortName string) (int, bool) {
	for _, s := range []string{routeID, shortName} {
		s = strings.TrimSpace(s)
		if i := strings.LastIndexByte(s, '_'); i >= 0 {
			s = s[i+1:]
		}
		n, err := strconv.Atoi(s)
		if err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// Distinct sorts refs and drops duplicates.
func Distinct(refs []int) []int {
	out := slices.Clone(refs)
	slices.Sort(out)
	return slices.Compact(out)
}
