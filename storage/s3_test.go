package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apt_scrooper/config"
	"apt_scrooper/models"
)

func TestArchiveKey(t *testing.T) {
	pass := uuid.MustParse("6f1c2a8e-0000-4000-8000-000000000001")
	at := time.Date(2025, 3, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))

	assert.Equal(t, "raw/lyric/2025-03-02/6f1c2a8e-0000-4000-8000-000000000001.json", ArchiveKey("lyric", pass, at))
}

func TestRawArchive_Put(t *testing.T) {
	var mu sync.Mutex
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	archive, err := NewRawArchive(context.Background(), config.S3Config{
		Bucket:          "captures",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	pass := uuid.New()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	key, err := archive.Put(context.Background(), "lyric", pass, at, []models.RawRecord{{"Unit": "101", "Rent": "$2,450"}})
	require.NoError(t, err)

	assert.Equal(t, ArchiveKey("lyric", pass, at), key)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/captures/"+key, path)
}
