package asset

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestFetchImage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	f := NewFetcher(server.Client(), time.Second, 0, nil)
	asset, ok := f.Fetch(context.Background(), server.URL+"/hq.jpg")
	if !ok {
		t.Fatal("expected asset to be present")
	}
	if asset.MIMEType != "image/jpeg" {
		t.Fatalf("unexpected mime type: %s", asset.MIMEType)
	}
	if string(asset.Data) != "jpeg-bytes" {
		t.Fatalf("unexpected data: %q", asset.Data)
	}
}

func TestFetchSniffsMissingContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	f := NewFetcher(server.Client(), time.Second, 0, nil)
	asset, ok := f.Fetch(context.Background(), server.URL)
	if !ok {
		t.Fatal("expected asset to be present")
	}
	if asset.MIMEType != "image/png" {
		t.Fatalf("expected sniffed image/png, got %s", asset.MIMEType)
	}
}

func TestFetchFollowsOpenGraphImage(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head>
		  <meta property="og:image" content="/thumbs/maxres.png">
		</head><body>video</body></html>`))
	})
	mux.HandleFunc("/thumbs/maxres.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := NewFetcher(server.Client(), time.Second, 0, nil)
	asset, ok := f.Fetch(context.Background(), server.URL+"/watch")
	if !ok {
		t.Fatal("expected og:image to resolve")
	}
	if !bytes.Equal(asset.Data, pngHeader) {
		t.Fatalf("unexpected data: %q", asset.Data)
	}
}

func TestFetchAbsentOnFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(bytes.Repeat([]byte{1}, 64))
	})
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("not an image"))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>no preview</title></head></html>`))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := NewFetcher(server.Client(), 100*time.Millisecond, 32, nil)
	for _, path := range []string{"/missing", "/big", "/text", "/page", "/slow"} {
		if _, ok := f.Fetch(context.Background(), server.URL+path); ok {
			t.Fatalf("%s: expected absent asset", path)
		}
	}
	if _, ok := f.Fetch(context.Background(), ""); ok {
		t.Fatal("empty ref: expected absent asset")
	}
}
