package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WessleyAI/storyboard/engine/domain"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		keyword string
		sites   []string
		want    string
	}{
		{"選舉", []string{"cnn.com"}, "選舉 (site:cnn.com)"},
		{" 颱風 ", []string{"cnn.com", "bbc.com"}, "颱風 (site:cnn.com OR site:bbc.com)"},
		{"AI", nil, "AI"},
	}
	for _, tt := range tests {
		if got := BuildQuery(tt.keyword, tt.sites); got != tt.want {
			t.Errorf("BuildQuery(%q, %v) = %q, want %q", tt.keyword, tt.sites, got, tt.want)
		}
	}
}

func serperServer(t *testing.T, status int, body string, got *serperReq) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "key" {
			t.Errorf("missing api key header")
		}
		if got != nil {
			json.NewDecoder(r.Body).Decode(got)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSerper(url string) *Serper {
	cfg := DefaultSerperConfig()
	cfg.APIKey = "key"
	cfg.Endpoint = url
	cfg.RatePerSec = 0
	return NewSerper(cfg, nil)
}

func TestSerperSearch(t *testing.T) {
	var got serperReq
	srv := serperServer(t, http.StatusOK, `{"organic":[
		{"title":"A","link":"https://edition.cnn.com/a","snippet":"sa","date":"2 days ago"},
		{"title":"A again","link":"https://edition.cnn.com/a","snippet":"dup"},
		{"title":"bad","link":"not a url"},
		{"title":"B","link":"https://edition.cnn.com/b","snippet":"sb"}
	]}`, &got)

	items, err := newSerper(srv.URL).Search(context.Background(), Query{Keyword: "選舉"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Title != "A" || items[1].Link != "https://edition.cnn.com/b" {
		t.Fatalf("unexpected items %+v", items)
	}
	if items[0].Date != "2 days ago" {
		t.Fatalf("date not carried: %+v", items[0])
	}
	if got.Q != "選舉 (site:cnn.com)" || got.Num != 50 || got.GL != "tw" || got.HL != "zh-tw" || got.Location != "Taiwan" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestSerperQueryOverrides(t *testing.T) {
	var got serperReq
	srv := serperServer(t, http.StatusOK, `{"organic":[{"title":"A","link":"https://bbc.com/a"}]}`, &got)

	_, err := newSerper(srv.URL).Search(context.Background(), Query{Keyword: "x", Sites: []string{"bbc.com"}, Region: "Japan", Num: 10})
	if err != nil {
		t.Fatal(err)
	}
	if got.Q != "x (site:bbc.com)" || got.Location != "Japan" || got.Num != 10 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestSerperNoResults(t *testing.T) {
	srv := serperServer(t, http.StatusOK, `{"organic":[]}`, nil)
	_, err := newSerper(srv.URL).Search(context.Background(), Query{Keyword: "nothing"})
	if !errors.Is(err, domain.ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestSerperErrors(t *testing.T) {
	srv := serperServer(t, http.StatusForbidden, `{"message":"bad key"}`, nil)
	_, err := newSerper(srv.URL).Search(context.Background(), Query{Keyword: "x"})
	var te *domain.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}

	srv = serperServer(t, http.StatusOK, `{not json`, nil)
	_, err = newSerper(srv.URL).Search(context.Background(), Query{Keyword: "x"})
	var pe *domain.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}

	if _, err := newSerper(srv.URL).Search(context.Background(), Query{Keyword: "  "}); !errors.Is(err, domain.ErrInvalidKeyword) {
		t.Fatalf("expected ErrInvalidKeyword, got %v", err)
	}
}
