package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBootstrapSendsSinceAndAuth(t *testing.T) {
	asOf := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	var gotSince, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(BootstrapResponse{AsOf: asOf})
	}))
	defer srv.Close()

	c := New(srv.URL, "key-123", "dev-1")
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resp, err := c.Bootstrap(context.Background(), &since)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !resp.AsOf.Equal(asOf) {
		t.Errorf("AsOf = %v", resp.AsOf)
	}
	if gotSince != "2026-03-01T12:00:00Z" {
		t.Errorf("since = %q", gotSince)
	}
	if gotAuth != "Bearer key-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestUploadFillsDeviceID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(UploadResponse{SyncedIDs: []string{req.DeviceID}})
	}))
	defer srv.Close()

	resp, err := New(srv.URL, "k", "tablet-7").Upload(context.Background(), &UploadRequest{})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(resp.SyncedIDs) != 1 || resp.SyncedIDs[0] != "tablet-7" {
		t.Errorf("device id not sent: %v", resp.SyncedIDs)
	}
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"code":"unauthorized","message":"bad key"}`, ErrUnauthorized},
		{http.StatusForbidden, ``, ErrForbidden},
		{http.StatusNotFound, `{"code":"not_found"}`, ErrNotFound},
		{http.StatusTooManyRequests, `slow down`, ErrNetwork},
		{http.StatusBadGateway, ``, ErrNetwork},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))
		_, err := New(srv.URL, "k", "d").FetchReport(context.Background(), "r1")
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: got %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestBadRequestIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"invalid","message":"missing reports"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k", "d").Upload(context.Background(), &UploadRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Errorf("400 should not be retryable: %v", err)
	}
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Code != "invalid" {
		t.Errorf("expected apiError, got %T %v", err, err)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "", "").HealthCheck(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL, "", "").HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestRequestPhotoUploads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/photos/upload-targets" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req PhotoTargetsRequest
		json.NewDecoder(r.Body).Decode(&req)
		var out PhotoTargetsResponse
		for _, id := range req.PhotoIDs {
			out.PhotoUploads = append(out.PhotoUploads, PhotoUpload{PhotoID: id, UploadURL: "http://x/" + id})
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	targets, err := New(srv.URL, "k", "d").RequestPhotoUploads(context.Background(), []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("RequestPhotoUploads: %v", err)
	}
	if len(targets) != 2 || targets[1].PhotoID != "p2" {
		t.Errorf("targets = %+v", targets)
	}
}
