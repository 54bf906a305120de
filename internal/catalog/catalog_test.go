package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
)

func TestParseRating(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"7.5", ptr(7.5)},
		{" 6 ", ptr(6)},
		{"N/A", nil},
		{"", nil},
		{"abc", nil},
		{"NaN", nil},
		{"Inf", nil},
	}
	for _, tt := range tests {
		got := ParseRating(tt.in)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("ParseRating(%q) = %v, want nil", tt.in, *got)
		case tt.want != nil && (got == nil || *got != *tt.want):
			t.Errorf("ParseRating(%q) = %v, want %v", tt.in, got, *tt.want)
		}
	}
}

func TestParseCount(t *testing.T) {
	tests := map[string]int64{
		"1,234,567": 1234567,
		"42":        42,
		"N/A":       0,
		"":          0,
		"many":      0,
		"-5":        0,
		"3.5":       0,
	}
	for in, want := range tests {
		if got := ParseCount(in); got != want {
			t.Errorf("ParseCount(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseYear(t *testing.T) {
	tests := map[string]int{
		"1978":       1978,
		"2010–2012":  2010,
		"1999-03-01": 1999,
		"N/A":        0,
		"":           0,
		"20":         0,
		"abcd":       0,
	}
	for in, want := range tests {
		if got := ParseYear(in); got != want {
			t.Errorf("ParseYear(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestDetail_ToItem_MalformedFieldsCoerced(t *testing.T) {
	raw := `{
		"Title": " Halloween ",
		"Plot": "N/A",
		"Genre": "Horror, Thriller",
		"Year": "1978",
		"imdbRating": "N/A",
		"imdbVotes": "N/A",
		"Metascore": null,
		"Language": "English",
		"Poster": "N/A",
		"Type": "movie"
	}`
	var d Detail
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	it := d.ToItem("tt0077651")
	if it.ID != "tt0077651" {
		t.Errorf("ID = %q", it.ID)
	}
	if it.Title != "Halloween" {
		t.Errorf("Title = %q", it.Title)
	}
	if it.Description != "" || it.Poster != "" {
		t.Errorf("N/A should map to empty: %+v", it)
	}
	if it.Rating != nil || it.Votes != 0 || it.CriticScore != 0 {
		t.Errorf("malformed numerics should be zero/unknown: %+v", it)
	}
	if it.Year != 1978 {
		t.Errorf("Year = %d", it.Year)
	}
}

func TestDetail_ToItem_PlaceholderTitle(t *testing.T) {
	d := Detail{Title: " n/a ", Genre: "Horror"}
	if it := d.ToItem("tt1"); it.Title != "" {
		t.Errorf("placeholder title should be empty, got %q", it.Title)
	}
}

func TestFlexString_Numbers(t *testing.T) {
	var d Detail
	if err := json.Unmarshal([]byte(`{"imdbRating": 7.1, "imdbVotes": 1200, "Metascore": true}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	it := d.ToItem("x")
	if it.Rating == nil || *it.Rating != 7.1 {
		t.Errorf("numeric rating not decoded: %v", it.Rating)
	}
	if it.Votes != 1200 {
		t.Errorf("Votes = %d", it.Votes)
	}
	if it.CriticScore != 0 {
		t.Errorf("bool metascore should coerce to 0, got %d", it.CriticScore)
	}
}

// mockOMDb serves search and detail responses keyed by query parameters.
func mockOMDb(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *OMDbClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return NewOMDbClient(OMDbConfig{BaseURL: srv.URL + "/", APIKey: "k", TimeoutSecs: 5})
}

func TestOMDbClient_SearchTitles(t *testing.T) {
	client := mockOMDb(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("apikey") != "k" {
			t.Errorf("apikey = %q", q.Get("apikey"))
		}
		if q.Get("s") != "ghost" || q.Get("page") != "2" || q.Get("type") != "movie" || q.Get("y") != "" {
			t.Errorf("unexpected query: %v", q)
		}
		w.Write([]byte(`{"Search":[{"Title":"Ghost","Year":"1990","imdbID":"tt0099653","Type":"movie"},{"Title":"NoID"}],"Response":"True"}`))
	})

	hits, err := client.SearchTitles(context.Background(), "ghost", 2, "movie", 0)
	if err != nil {
		t.Fatalf("SearchTitles failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "tt0099653" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestOMDbClient_SearchNotFound(t *testing.T) {
	client := mockOMDb(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":"False","Error":"Movie not found!"}`))
	})
	hits, err := client.SearchTitles(context.Background(), "zzz", 1, "movie", 0)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected empty page, got %v / %v", hits, err)
	}
}

func TestOMDbClient_GetByID(t *testing.T) {
	client := mockOMDb(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("i") {
		case "tt1":
			if q.Get("plot") != "full" {
				t.Errorf("plot = %q, want full", q.Get("plot"))
			}
			w.Write([]byte(`{"imdbID":"tt1","Title":"Hereditary","Plot":"A grieving family is haunted.","Genre":"Drama, Horror, Mystery","Year":"2018","imdbRating":"7.3","imdbVotes":"350,123","Metascore":"87","Language":"English","Response":"True"}`))
		default:
			w.Write([]byte(`{"Response":"False","Error":"Incorrect IMDb ID."}`))
		}
	})

	d, err := client.GetByID(context.Background(), "tt1", true)
	if err != nil || d == nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	it := d.ToItem("tt1")
	if it.Votes != 350123 || it.CriticScore != 87 || it.Year != 2018 {
		t.Errorf("unexpected item: %+v", it)
	}

	missing, err := client.GetByID(context.Background(), "tt404", true)
	if err != nil || missing != nil {
		t.Fatalf("expected nil detail for unknown id, got %+v / %v", missing, err)
	}
}

func TestOMDbClient_RateLimited(t *testing.T) {
	client := mockOMDb(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":"False","Error":"Request limit reached!"}`))
	})
	_, err := client.GetByID(context.Background(), "tt1", true)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestOMDbClient_HTTPError(t *testing.T) {
	client := mockOMDb(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	})
	_, err := client.SearchTitles(context.Background(), "x", 1, "", 0)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests || httpErr.RetryAfter.Seconds() != 3 {
		t.Errorf("unexpected error: %+v", httpErr)
	}
}

func ptr(v float64) *float64 { return &v }
