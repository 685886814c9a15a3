package netutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDownloadSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	d, err := NewFeedDownloader(5*time.Second, "")
	if err != nil {
		t.Fatal(err)
	}
	body, err := d.Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "payload" {
		t.Errorf("body = %q", body)
	}
	if gotUA != ChromeUserAgent {
		t.Errorf("User-Agent = %q, want browser UA", gotUA)
	}
}

func TestDownloadRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d, err := NewFeedDownloader(5*time.Second, "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Download(context.Background(), srv.URL)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want HTTPStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNoContent {
		t.Errorf("StatusCode = %d", statusErr.StatusCode)
	}
}

func TestDownloadFollowsRedirects(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved"))
	})

	d, err := NewFeedDownloader(5*time.Second, "")
	if err != nil {
		t.Fatal(err)
	}
	body, err := d.Download(context.Background(), srv.URL+"/start")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "moved" {
		t.Errorf("body = %q", body)
	}
}

func TestDownloadBadURL(t *testing.T) {
	d := &DirectDownloader{
		TimeoutFn:   func() time.Duration { return time.Second },
		UserAgentFn: func() string { return "" },
	}
	_, err := d.Download(context.Background(), "http://bad url with spaces")
	var nonRetryable *NonRetryableError
	if !errors.As(err, &nonRetryable) {
		t.Fatalf("want NonRetryableError, got %v", err)
	}
}

func TestDownloadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	d, err := NewFeedDownloader(50*time.Millisecond, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Download(context.Background(), srv.URL); err == nil {
		t.Fatal("want timeout error")
	}
}

func TestNewFeedDownloaderRejectsBadProxy(t *testing.T) {
	for _, proxyURL := range []string{"http://not-socks:1080", "socks5://", ":::"} {
		if _, err := NewFeedDownloader(time.Second, proxyURL); err == nil {
			t.Errorf("NewFeedDownloader(%q) should fail", proxyURL)
		}
	}
}
