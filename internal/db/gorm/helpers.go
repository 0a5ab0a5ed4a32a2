package gorm

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/learnlog/pkg/models"
)

// Filter narrows a list query over one record kind. Zero values disable
// the corresponding condition.
type Filter struct {
	// Text is matched as a case-insensitive substring against the kind's
	// searchable text fields.
	Text string
	// Category is matched as a case-insensitive substring against the
	// kind's category column (context, file type or judgment).
	Category string
	// From and To bound created_at inclusively.
	From time.Time
	To   time.Time
	// Limit caps the number of rows; 0 means no cap.
	Limit  int
	Offset int
}

// likeEscaper escapes LIKE wildcards so user text matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a lower-cased LIKE pattern for substring matching.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

// whereContainsAny adds "any of columns contains text" to q.
// Column names are compile-time constants, never user input.
func whereContainsAny(q *gorm.DB, text string, columns ...string) *gorm.DB {
	if text == "" || len(columns) == 0 {
		return q
	}
	pattern := containsPattern(text)
	clauses := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		clauses[i] = "LOWER(COALESCE(" + col + ", '')) LIKE ? ESCAPE '\\'"
		args[i] = pattern
	}
	return q.Where("("+strings.Join(clauses, " OR ")+")", args...)
}

// whereCreatedBetween adds the inclusive created_at range.
func whereCreatedBetween(q *gorm.DB, from, to time.Time) *gorm.DB {
	if !from.IsZero() {
		q = q.Where("created_at_epoch >= ?", from.UnixMilli())
	}
	if !to.IsZero() {
		q = q.Where("created_at_epoch <= ?", to.UnixMilli())
	}
	return q
}

func applyPaging(q *gorm.DB, f Filter) *gorm.DB {
	if f.Limit > 0 {
		q = q.Limit(min(f.Limit, MaxPaginationLimit))
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	return q
}

// MaxPaginationLimit is the maximum allowed limit for pagination queries.
// This protects against resource exhaustion from excessively large requests.
const MaxPaginationLimit = 1000

// ParseLimitParam parses the "limit" query parameter from an HTTP request.
// Returns defaultLimit if the parameter is missing or invalid.
func ParseLimitParam(r *http.Request, defaultLimit int) int {
	return ParseIntParam(r, "limit", defaultLimit)
}

// ParseLimitParamWithMax parses the "limit" query parameter with a maximum cap.
// Returns min(parsed, maxLimit) or defaultLimit if missing/invalid.
// If maxLimit is 0, uses MaxPaginationLimit (1000).
func ParseLimitParamWithMax(r *http.Request, defaultLimit, maxLimit int) int {
	if maxLimit <= 0 {
		maxLimit = MaxPaginationLimit
	}
	return min(ParseLimitParam(r, defaultLimit), maxLimit)
}

// ParseIntParam parses a positive integer query parameter.
// Returns def if the parameter is missing, malformed or not positive.
func ParseIntParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

// ParseOffsetParam parses the "offset" query parameter from an HTTP request.
// Returns 0 if the parameter is missing or invalid.
func ParseOffsetParam(r *http.Request) int {
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return 0
}

// nowStamp returns the display and epoch forms of the current time.
func nowStamp() (string, int64) {
	now := time.Now()
	return models.FormatTimestamp(now), now.UnixMilli()
}
