package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"", "127.0.0.1:8080"},
		{"0.0.0.0:9090", "127.0.0.1:9090"},
		{":7000", "127.0.0.1:7000"},
		{"10.0.0.5:8080", "10.0.0.5:8080"},
		{"garbage", "127.0.0.1:8080"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeAddr(tt.raw), tt.raw)
	}
}

func TestCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","time":"2026-03-02T09:00:00Z"}`))
	}))
	defer healthy.Close()
	assert.Equal(t, 0, check(strings.TrimPrefix(healthy.URL, "http://")))

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	assert.Equal(t, 1, check(strings.TrimPrefix(failing.URL, "http://")))
}
