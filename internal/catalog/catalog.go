// Package catalog is the boundary to the external movie catalog.
//
// Catalog responses are loosely typed (every field is a string, "N/A" means
// missing, numbers carry thousands separators). Detail.ToItem is the single
// place where that data is coerced into a store.Item; nothing downstream
// ever sees the raw form.
package catalog

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/hurttlocker/terrorreco/internal/store"
)

// ErrRateLimited is returned when the provider reports its request quota is exhausted.
var ErrRateLimited = errors.New("catalog rate limit reached")

// Catalog is the item-detail provider consumed by the corpus builder.
type Catalog interface {
	// SearchTitles returns one page of title-search hits. year <= 0 means any year.
	SearchTitles(ctx context.Context, query string, page int, kind string, year int) ([]SearchHit, error)

	// GetByID returns full details, or nil with no error when the id is unknown.
	GetByID(ctx context.Context, id string, fullPlot bool) (*Detail, error)
}

// SearchHit is one title-search result.
type SearchHit struct {
	ID    string `json:"imdbID"`
	Title string `json:"Title"`
	Year  string `json:"Year"`
	Kind  string `json:"Type"`
}

// Detail is a raw catalog record.
type Detail struct {
	ID        FlexString `json:"imdbID"`
	Title     FlexString `json:"Title"`
	Plot      FlexString `json:"Plot"`
	Genre     FlexString `json:"Genre"`
	Year      FlexString `json:"Year"`
	Released  FlexString `json:"Released"`
	Rating    FlexString `json:"imdbRating"`
	Votes     FlexString `json:"imdbVotes"`
	Metascore FlexString `json:"Metascore"`
	Language  FlexString `json:"Language"`
	Poster    FlexString `json:"Poster"`
	Kind      FlexString `json:"Type"`
}

// ToItem coerces the raw record into a typed item. Malformed numeric fields
// become their zero value (unknown), never an error.
func (d *Detail) ToItem(id string) store.Item {
	if v := clean(string(d.ID)); v != "" {
		id = v
	}
	return store.Item{
		ID:          id,
		Title:       clean(string(d.Title)),
		Description: clean(string(d.Plot)),
		Year:        ParseYear(string(d.Year)),
		Rating:      ParseRating(string(d.Rating)),
		Votes:       ParseCount(string(d.Votes)),
		CriticScore: int(ParseCount(string(d.Metascore))),
		Genre:       clean(string(d.Genre)),
		Language:    clean(string(d.Language)),
		Poster:      clean(string(d.Poster)),
		Kind:        clean(string(d.Kind)),
		Released:    clean(string(d.Released)),
	}
}

// clean trims and maps the provider's "N/A" placeholder to empty.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "N/A") {
		return ""
	}
	return s
}

// ParseRating returns nil for missing or non-numeric ratings.
func ParseRating(s string) *float64 {
	s = clean(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ParseCount parses counts like "12,345"; anything malformed is 0.
func ParseCount(s string) int64 {
	s = strings.ReplaceAll(clean(s), ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// ParseYear takes the leading four digits ("2010–2012" -> 2010, "1999-03-01" -> 1999).
// Returns 0 when no year can be read.
func ParseYear(s string) int {
	s = clean(s)
	if len(s) < 4 {
		return 0
	}
	v, err := strconv.Atoi(s[:4])
	if err != nil || v <= 0 {
		return 0
	}
	return v
}
