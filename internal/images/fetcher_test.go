package images

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestIsURL(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"https://example.com/meal.jpg", true},
		{"http://localhost:8080/a.png", true},
		{"meal.jpg", false},
		{"/tmp/meal.jpg", false},
		{"ftp://example.com/a.png", false},
		{"https://", false},
	}
	for _, tt := range tests {
		if got := IsURL(tt.input); got != tt.expected {
			t.Errorf("IsURL(%q): expected %v, got %v", tt.input, tt.expected, got)
		}
	}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/typed.jpg":
			w.Header().Set("Content-Type", "image/jpeg; charset=binary")
			_, _ = w.Write([]byte("jpeg-bytes"))
		case "/untyped":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pngHeader)
		case "/big":
			_, _ = w.Write(bytes.Repeat([]byte("a"), 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := NewFetcher(32)
	f.AllowPrivate = true
	ctx := context.Background()

	img, err := f.Fetch(ctx, server.URL+"/typed.jpg")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if img.MIMEType != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", img.MIMEType)
	}

	img, err = f.Fetch(ctx, server.URL+"/untyped")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("Expected sniffed image/png, got %s", img.MIMEType)
	}

	if _, err := f.Fetch(ctx, server.URL+"/big"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
	if _, err := f.Fetch(ctx, server.URL+"/missing"); err == nil {
		t.Error("Expected error for 404")
	}
	if _, err := f.Fetch(ctx, "not a url"); err == nil {
		t.Error("Expected error for invalid url")
	}
}

func TestCheckPublic(t *testing.T) {
	tests := []struct {
		address string
		allowed bool
	}{
		{"93.184.216.34:443", true},
		{"[2606:4700::1111]:443", true},
		{"127.0.0.1:80", false},
		{"10.1.2.3:80", false},
		{"172.16.0.5:80", false},
		{"192.168.1.1:8080", false},
		{"169.254.169.254:80", false},
		{"100.64.0.1:80", false},
		{"0.0.0.0:80", false},
		{"[::1]:80", false},
		{"[fe80::1]:80", false},
		{"[fd00::1]:80", false},
		{"[::ffff:127.0.0.1]:80", false},
		{"224.0.0.1:80", false},
	}
	for _, tt := range tests {
		err := checkPublic(tt.address)
		if tt.allowed && err != nil {
			t.Errorf("checkPublic(%s): expected allowed, got %v", tt.address, err)
		}
		if !tt.allowed && !errors.Is(err, ErrForbiddenHost) {
			t.Errorf("checkPublic(%s): expected ErrForbiddenHost, got %v", tt.address, err)
		}
	}
}

func TestFetchRefusesPrivateHosts(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	f := NewFetcher(1 << 20)
	ctx := context.Background()

	if _, err := f.Fetch(ctx, server.URL+"/meta"); !errors.Is(err, ErrForbiddenHost) {
		t.Errorf("Expected ErrForbiddenHost for loopback address, got %v", err)
	}

	// hostnames are refused once they resolve to loopback
	localhost := strings.Replace(server.URL, "127.0.0.1", "localhost", 1)
	if _, err := f.Fetch(ctx, localhost+"/meta"); err == nil {
		t.Error("Expected error for localhost")
	}

	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("Expected no request to reach the private server, got %d", n)
	}
}
