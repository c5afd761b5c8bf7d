package export

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQuery(t *testing.T) {
	tests := []struct {
		name      string
		totals    []float64
		subtotals []float64
		tag       string
		want      string
	}{
		{
			name:      "no tag",
			totals:    []float64{12.5, 0},
			subtotals: []float64{3.25, 0.5},
			want:      "12.50,0.00,3.25,0.50",
		},
		{
			name:      "power up tag",
			totals:    []float64{12.5, 0},
			subtotals: []float64{3.25, 0.5},
			tag:       TagPowerUp,
			want:      "12.50,0.00,3.25,0.50,PowerUp",
		},
		{
			name:      "single channel storage tag",
			totals:    []float64{1},
			subtotals: []float64{0.5},
			tag:       TagStorageError,
			want:      "1.00,0.50,SD-Error",
		},
		{
			name:      "eight channels",
			totals:    []float64{1, 2, 3, 4, 5, 6, 7, 8},
			subtotals: []float64{0, 0, 0, 0, 0, 0, 0, 0.25},
			want:      "1.00,2.00,3.00,4.00,5.00,6.00,7.00,8.00,0.00,0.00,0.00,0.00,0.00,0.00,0.00,0.25",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Query(tt.totals, tt.subtotals, tt.tag)
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSinkPushSendsSnapshot(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte("Data logged"))
	}))
	defer srv.Close()

	s := NewSink(srv.URL)
	line, err := s.Push(context.Background(), []float64{12.5, 0}, []float64{3.25, 0.5}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/exec" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotQuery != "meterData=12.50,0.00,3.25,0.50" {
		t.Errorf("unexpected query: %s", gotQuery)
	}
	if line != "HTTP Status Code: 200, HTTP Message: Data logged" {
		t.Errorf("unexpected status line: %s", line)
	}
}

func TestSinkPushAppendsTag(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
	}))
	defer srv.Close()

	s := NewSink(srv.URL)
	if _, err := s.Push(context.Background(), []float64{1}, []float64{0.5}, TagWiFiReconnect); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotQuery != "meterData=1.00,0.50,WiFiReconnect" {
		t.Errorf("unexpected query: %s", gotQuery)
	}
}

func TestSinkSurfacesNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("quota exceeded"))
	}))
	defer srv.Close()

	s := NewSink(srv.URL)
	line, err := s.Push(context.Background(), []float64{1}, []float64{0}, "")
	if err != nil {
		t.Fatalf("expected non-2xx to be surfaced, not failed: %v", err)
	}
	if line != "HTTP Status Code: 503, HTTP Message: quota exceeded" {
		t.Errorf("unexpected status line: %s", line)
	}
}

func TestSinkTransportErrorReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	s := NewSink(srv.URL)
	line, err := s.Push(context.Background(), []float64{1}, []float64{0}, "")
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if line != "" {
		t.Errorf("expected empty status line, got %s", line)
	}
}

func TestSinkTrimsTrailingSlash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	s := NewSink(srv.URL + "/")
	if _, err := s.Push(context.Background(), []float64{1}, []float64{0}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/exec" {
		t.Errorf("unexpected path: %s", gotPath)
	}
}

func TestSinkHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSink(srv.URL)
	if _, err := s.Push(ctx, []float64{1}, []float64{0}, ""); err == nil {
		t.Fatal("expected error from canceled context")
	}
}
