package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource_Fetch(t *testing.T) {
	page := loadFixture(t, "lyric_table.html")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "Mozilla/5.0") {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write(page)
	}))
	defer srv.Close()

	b := lyricBuilding()
	b.URL = srv.URL

	rows, err := NewHTTPSource(srv.Client(), nil).Fetch(context.Background(), b)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestHTTPSource_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := lyricBuilding()
	b.URL = srv.URL

	_, err := NewHTTPSource(srv.Client(), nil).Fetch(context.Background(), b)

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "unexpected status: 503", se.Reason)
}

func TestHTTPSource_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b := lyricBuilding()
	b.URL = url

	_, err := NewHTTPSource(http.DefaultClient, nil).Fetch(context.Background(), b)

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "fetch", se.Reason)
	assert.Error(t, se.Unwrap())
}

func TestHTTPSource_OversizedPage(t *testing.T) {
	page := loadFixture(t, "lyric_table.html")
	padding := "<!--" + strings.Repeat("x", maxPageBytes) + "-->"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write(page)
		w.Write([]byte(padding))
	}))
	defer srv.Close()

	b := lyricBuilding()
	b.URL = srv.URL

	rows, err := NewHTTPSource(srv.Client(), nil).Fetch(context.Background(), b)

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "page exceeds size limit", se.Reason)
	assert.Nil(t, rows)
}

func TestHTTPSource_PageAtSizeLimit(t *testing.T) {
	page := loadFixture(t, "lyric_table.html")
	fill := maxPageBytes - len(page) - len("<!---->")
	require.Positive(t, fill)
	body := append(append([]byte{}, page...), []byte("<!--"+strings.Repeat("x", fill)+"-->")...)
	require.Len(t, body, maxPageBytes)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write(body)
	}))
	defer srv.Close()

	b := lyricBuilding()
	b.URL = srv.URL

	rows, err := NewHTTPSource(srv.Client(), nil).Fetch(context.Background(), b)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
