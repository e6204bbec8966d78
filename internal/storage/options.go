package storage

import (
	"fmt"
	"strings"
	"time"
)

// orderColumn is an allow-listed ORDER BY target; never built from raw
// caller input, since QueryOptions.OrderBy is a closed set of identifiers.
type orderColumn string

const (
	OrderByFirstSeen     orderColumn = "first_seen"
	OrderByLastSeen      orderColumn = "last_seen"
	OrderByAnnounceCount orderColumn = "announce_count"
	OrderByPeerCount     orderColumn = "peer_count"
	OrderByDownloadTime  orderColumn = "download_time"
	OrderByName          orderColumn = "name"
	OrderByTotalSize     orderColumn = "total_size"
	OrderByFileCount     orderColumn = "file_count"
)

var validOrderColumns = map[orderColumn]bool{
	OrderByFirstSeen:     true,
	OrderByLastSeen:      true,
	OrderByAnnounceCount: true,
	OrderByPeerCount:     true,
	OrderByDownloadTime:  true,
	OrderByName:          true,
	OrderByTotalSize:     true,
	OrderByFileCount:     true,
}

// QueryOptions filters and paginates the get_<X>s/count_<X> read surface.
// Every field is optional; a zero value means "no filter on this dimension".
type QueryOptions struct {
	Limit  int
	Offset int

	OrderBy   orderColumn
	OrderDesc bool

	MinLastSeen  *time.Time
	MaxLastSeen  *time.Time

	IsResponsive *bool
	HasMetadata  *bool

	MinAnnounceCount *int
	MinPeerCount     *int
	MinPingCount     *int
	MinResponseCount *int

	NameContains *string

	MinSize *int64
	MaxSize *int64

	MinFileCount *int

	MinDownloadTime *time.Time
	MaxDownloadTime *time.Time
}

// whereClause accumulates parameterized predicates and their bound
// arguments in lockstep, so the final SQL never interpolates caller data.
type whereClause struct {
	conds []string
	args  []interface{}
}

func (w *whereClause) add(cond string, arg interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *whereClause) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// buildNodeFilter translates the subset of QueryOptions meaningful to the
// nodes table into a WHERE clause plus bound arguments.
func buildNodeFilter(opt QueryOptions) whereClause {
	var w whereClause
	if opt.MinLastSeen != nil {
		w.add("last_seen >= ?", *opt.MinLastSeen)
	}
	if opt.MaxLastSeen != nil {
		w.add("last_seen <= ?", *opt.MaxLastSeen)
	}
	if opt.IsResponsive != nil {
		w.add("is_responsive = ?", *opt.IsResponsive)
	}
	if opt.MinPingCount != nil {
		w.add("ping_count >= ?", *opt.MinPingCount)
	}
	if opt.MinResponseCount != nil {
		w.add("response_count >= ?", *opt.MinResponseCount)
	}
	return w
}

// buildInfoHashFilter translates the subset of QueryOptions meaningful to
// the infohashes table into a WHERE clause plus bound arguments.
func buildInfoHashFilter(opt QueryOptions) whereClause {
	var w whereClause
	if opt.MinLastSeen != nil {
		w.add("last_seen >= ?", *opt.MinLastSeen)
	}
	if opt.MaxLastSeen != nil {
		w.add("last_seen <= ?", *opt.MaxLastSeen)
	}
	if opt.HasMetadata != nil {
		w.add("has_metadata = ?", *opt.HasMetadata)
	}
	if opt.MinAnnounceCount != nil {
		w.add("announce_count >= ?", *opt.MinAnnounceCount)
	}
	if opt.MinPeerCount != nil {
		w.add("peer_count >= ?", *opt.MinPeerCount)
	}
	return w
}

// buildMetadataFilter translates the subset of QueryOptions meaningful to
// the metadata table into a WHERE clause plus bound arguments.
func buildMetadataFilter(opt QueryOptions) whereClause {
	var w whereClause
	if opt.NameContains != nil {
		w.add("name LIKE ?", "%"+*opt.NameContains+"%")
	}
	if opt.MinSize != nil {
		w.add("total_size >= ?", *opt.MinSize)
	}
	if opt.MaxSize != nil {
		w.add("total_size <= ?", *opt.MaxSize)
	}
	if opt.MinFileCount != nil {
		w.add("file_count >= ?", *opt.MinFileCount)
	}
	if opt.MinDownloadTime != nil {
		w.add("download_time >= ?", *opt.MinDownloadTime)
	}
	if opt.MaxDownloadTime != nil {
		w.add("download_time <= ?", *opt.MaxDownloadTime)
	}
	return w
}

// orderAndLimit renders the ORDER BY/LIMIT/OFFSET suffix for a query,
// falling back to defaultOrder when the caller leaves OrderBy unset or
// names a column outside the allow-listed set. The direction is ascending
// unless OrderDesc is set.
func orderAndLimit(opt QueryOptions, defaultOrder orderColumn) string {
	col := opt.OrderBy
	if col == "" || !validOrderColumns[col] {
		col = defaultOrder
	}
	dir := "ASC"
	if opt.OrderDesc {
		dir = "DESC"
	}
	clause := fmt.Sprintf("ORDER BY %s %s", col, dir)
	if opt.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", opt.Limit)
		if opt.Offset > 0 {
			clause += fmt.Sprintf(" OFFSET %d", opt.Offset)
		}
	}
	return clause
}
