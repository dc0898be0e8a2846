package ontap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/snapspectre/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		Host:     "cl1.example.com",
		BaseURL:  server.URL,
		Username: "admin",
		Password: "secret",
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client.policy.Sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(ClientConfig{Host: "cl1.example.com"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.baseURL.String() != "https://cl1.example.com" {
		t.Errorf("expected https base URL, got %s", client.baseURL)
	}
	if client.httpClient.Timeout != defaultTimeout {
		t.Errorf("expected timeout %v, got %v", defaultTimeout, client.httpClient.Timeout)
	}
	if client.pageSize != defaultPageSize {
		t.Errorf("expected page size %d, got %d", defaultPageSize, client.pageSize)
	}
	if client.Host() != "cl1.example.com" {
		t.Errorf("unexpected host %q", client.Host())
	}

	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected missing host to fail")
	}
}

func TestListVolumesFollowsPagination(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/storage/volumes", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Errorf("missing or wrong basic auth: %q %q %v", user, pass, ok)
		}
		if got := r.URL.Query().Get("fields"); got != "name,uuid,svm.name" {
			t.Errorf("unexpected fields %q", got)
		}

		if r.URL.Query().Get("start.uuid") == "" {
			if got := r.URL.Query().Get("max_records"); got != "2" {
				t.Errorf("expected max_records=2, got %q", got)
			}
			fmt.Fprint(w, `{
				"records": [
					{"name": "vol_b", "uuid": "u-b", "svm": {"name": "svm1"}},
					{"name": "vol_a", "uuid": "u-a", "svm": {"name": "svm2"}}
				],
				"num_records": 2,
				"_links": {"next": {"href": "/api/storage/volumes?fields=name,uuid,svm.name&max_records=2&start.uuid=u-a"}}
			}`)
			return
		}
		fmt.Fprint(w, `{"records": [{"name": "vol_c", "uuid": "u-c", "svm": {"name": "svm1"}}], "num_records": 1, "_links": {}}`)
	})

	client := newTestClient(t, mux)
	volumes, err := client.ListVolumes(context.Background())
	if err != nil {
		t.Fatalf("ListVolumes failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 page requests, got %d", calls.Load())
	}

	want := []models.VolumeRecord{
		{Name: "vol_b", UUID: "u-b", SVMName: "svm1"},
		{Name: "vol_a", UUID: "u-a", SVMName: "svm2"},
		{Name: "vol_c", UUID: "u-c", SVMName: "svm1"},
	}
	if len(volumes) != len(want) {
		t.Fatalf("expected %d volumes, got %d", len(want), len(volumes))
	}
	for i := range want {
		if volumes[i] != want[i] {
			t.Errorf("volume %d: expected %+v, got %+v", i, want[i], volumes[i])
		}
	}
}

func TestListSnapshotsDecodesCreateTime(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/storage/volumes/u-a/snapshots", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("fields"); got != "name,create_time" {
			t.Errorf("unexpected fields %q", got)
		}
		fmt.Fprint(w, `{"records": [
			{"name": "SP_2_100_1", "create_time": "2024-03-01T02:00:00-05:00"},
			{"name": "hourly.0", "create_time": "2024-03-08T10:05:00-05:00"}
		], "num_records": 2}`)
	})

	client := newTestClient(t, mux)
	snaps, err := client.ListSnapshots(context.Background(), "u-a")
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	want := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	if snaps[0].Name != "SP_2_100_1" || !snaps[0].CreateTime.Equal(want) {
		t.Errorf("unexpected first snapshot %+v", snaps[0])
	}
}

func TestUnauthorizedIsConnectionErrorWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "not authorized for that command", "code": "6"}}`)
	})

	client := newTestClient(t, handler)
	_, err := client.ListVolumes(context.Background())

	var connErr *models.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if connErr.System != "array" || connErr.Endpoint != "cl1.example.com" {
		t.Errorf("unexpected connection error %+v", connErr)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "6" {
		t.Errorf("expected wrapped APIError with code 6, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected no retry on 401, got %d calls", calls.Load())
	}
}

func TestServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"name": "cl1", "uuid": "c-1", "version": {"full": "NetApp Release 9.13.1"}}`)
	})

	client := newTestClient(t, handler)
	info, err := client.Cluster(context.Background())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	if info.Name != "cl1" || info.Version.Full == "" {
		t.Errorf("unexpected cluster info %+v", info)
	}
	if calls.Load() != 2 {
		t.Errorf("expected one retry, got %d calls", calls.Load())
	}
}

func TestNotFoundVolume(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"message": "entry doesn't exist", "code": "4"}}`)
	})

	client := newTestClient(t, handler)
	_, err := client.ListSnapshots(context.Background(), "gone")
	if !errors.Is(err, ErrVolumeNotFound) {
		t.Fatalf("expected ErrVolumeNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected no retry on 404, got %d calls", calls.Load())
	}
}

func TestNotFoundOutsideSnapshotListIsAPIError(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())
	ctx := context.Background()

	_, clusterErr := client.Cluster(ctx)
	_, volumesErr := client.ListVolumes(ctx)
	for name, err := range map[string]error{"cluster": clusterErr, "volumes": volumesErr} {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsNotFound() {
			t.Errorf("%s: expected 404 APIError, got %v", name, err)
		}
		if errors.Is(err, ErrVolumeNotFound) {
			t.Errorf("%s: 404 must not be reported as a vanished volume: %v", name, err)
		}
	}
}

func TestNotFoundOnLaterSnapshotPageFailsVolume(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"records": [{"name": "SP_2_100_a"}], "_links": {"next": {"href": "/api/storage/volumes/u-1/snapshots?page=2"}}}`)
	})

	client := newTestClient(t, handler)
	snapshots, err := client.ListSnapshots(context.Background(), "u-1")
	if err == nil {
		t.Fatalf("expected error, got %d snapshots", len(snapshots))
	}
	if errors.Is(err, ErrVolumeNotFound) {
		t.Fatalf("truncated listing reported as vanished volume: %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}

func TestPaginationLoopIsDetected(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"records": [], "_links": {"next": {"href": %q}}}`, r.URL.RequestURI())
	})

	client := newTestClient(t, handler)
	_, err := client.ListVolumes(context.Background())
	if !errors.Is(err, ErrPaginationLoop) {
		t.Fatalf("expected ErrPaginationLoop, got %v", err)
	}
}

func TestUnreachableClusterIsConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewClient(ClientConfig{Host: "cl9.example.com", BaseURL: url, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client.policy.Sleep = func(context.Context, time.Duration) error { return nil }

	_, err = client.ListVolumes(context.Background())
	var connErr *models.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestIsNonRetryableError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&APIError{StatusCode: 400}, true},
		{&APIError{StatusCode: 403}, true},
		{&APIError{StatusCode: 408}, false},
		{&APIError{StatusCode: 429}, false},
		{&APIError{StatusCode: 500}, false},
		{ErrVolumeNotFound, true},
		{errors.New("connection reset by peer"), false},
	}

	for _, tc := range cases {
		if got := isNonRetryableError(tc.err); got != tc.want {
			t.Errorf("isNonRetryableError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestThrottle(t *testing.T) {
	ctx := context.Background()

	limited := newThrottle("cl1", 1)
	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := limited.wait(ctx); err != nil {
			t.Fatalf("burst request %d: %v", i, err)
		}
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("expected burst of 2 to pass without delay")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := limited.wait(canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected throttled wait to honor cancellation, got %v", err)
	}

	unlimited := newThrottle("cl1", 0)
	for i := 0; i < 100; i++ {
		if err := unlimited.wait(ctx); err != nil {
			t.Fatalf("expected non-positive rps to disable pacing, got %v", err)
		}
	}
}
