package broker

import (
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 100
	MaxPageSize     = 100000
)

// Order is the direction results are returned in. OrderAsc returns the
// engine's canonical order (ts_start asc, rib before updates, collector_id
// asc); OrderDesc reverses all three keys.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Filter describes a query against the Index Store. Zero values mean
// "unconstrained" for every field except Page, which defaults in Validate.
// PageSize is a *int, like TsStart/TsEnd, so Validate can tell a caller who
// never mentioned page_size (nil, defaults to DefaultPageSize) apart from
// one who explicitly asked for page_size=0 (rejected).
type Filter struct {
	TsStart    *time.Time
	TsEnd      *time.Time
	Collectors []string
	Project    string
	DataType   string
	Page       int
	PageSize   *int
	Order      Order
}

// Validate normalizes defaults and checks the §4.6 grammar. Validation
// happens at query time, not at Filter-construction time, so a Filter can be
// built incrementally and validated once.
func (f *Filter) Validate() error {
	if f.Page == 0 {
		f.Page = DefaultPage
	}
	if f.Page < 1 {
		return &ConfigurationError{Field: "page", Got: strconv.Itoa(f.Page), Valid: []string{">= 1"}}
	}

	if f.PageSize == nil {
		size := DefaultPageSize
		f.PageSize = &size
	}
	if *f.PageSize < 1 || *f.PageSize > MaxPageSize {
		return &ConfigurationError{
			Field: "page_size",
			Got:   strconv.Itoa(*f.PageSize),
			Valid: []string{"1..100000"},
		}
	}

	if f.DataType != "" && f.DataType != string(DataTypeRib) && f.DataType != string(DataTypeUpdates) {
		return &ConfigurationError{Field: "data_type", Got: f.DataType, Valid: []string{"rib", "updates"}}
	}

	if f.Project != "" {
		norm, ok := normalizeProject(f.Project)
		if !ok {
			return &ConfigurationError{
				Field: "project",
				Got:   f.Project,
				Valid: []string{"riperis", "route-views", "routeviews"},
			}
		}
		f.Project = norm
	}

	if f.Order == "" {
		f.Order = OrderAsc
	}
	if f.Order != OrderAsc && f.Order != OrderDesc {
		return &ConfigurationError{Field: "order", Got: string(f.Order), Valid: []string{"asc", "desc"}}
	}

	return nil
}

func normalizeProject(p string) (string, bool) {
	switch strings.ToLower(p) {
	case "riperis", "ripe-ris", "ris":
		return string(ProjectRIPERIS), true
	case "route-views", "routeviews":
		return string(ProjectRouteViews), true
	default:
		return "", false
	}
}

// CollectorsForProject expands the Project field into the set of collector
// names for that project, unioned with any explicit Collectors. projectCollectors
// is injected by the caller (the query engine knows the Archive Catalog; this
// package does not import it, to keep pkg/broker dependency-free).
func (f *Filter) CollectorsForProject(projectCollectors []string) []string {
	if f.Project == "" {
		return f.Collectors
	}
	seen := make(map[string]bool, len(f.Collectors)+len(projectCollectors))
	out := make([]string, 0, len(f.Collectors)+len(projectCollectors))
	for _, c := range f.Collectors {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range projectCollectors {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// timestampLayouts are tried in order by ParseTimestamp. All are interpreted
// in UTC except RFC3339, which carries its own offset.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts the forms named in §4.6: Unix epoch seconds,
// RFC3339 with offset, YYYY-MM-DD, YYYY/MM/DD, YYYYMMDD, and
// "YYYY-MM-DD HH:MM:SS". All are converted to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &ConfigurationError{Field: "timestamp", Got: s, Valid: timestampFormatNames()}
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 9 && len(s) <= 10 {
		return time.Unix(secs, 0).UTC(), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, &ConfigurationError{Field: "timestamp", Got: s, Valid: timestampFormatNames()}
}

func timestampFormatNames() []string {
	return []string{
		"unix epoch seconds",
		"RFC3339",
		"YYYY-MM-DD",
		"YYYY/MM/DD",
		"YYYYMMDD",
		"YYYY-MM-DD HH:MM:SS",
	}
}
