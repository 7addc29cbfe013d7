package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
)

// fakeBucket is a minimal path-style object store.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[path] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestSource(t *testing.T) (*SnapshotSource, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string][]byte{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	src, err := New(context.Background(), Config{
		Endpoint:  srv.URL,
		Bucket:    "plantao",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return src, bucket
}

func TestSnapshotPublish(t *testing.T) {
	src, bucket := newTestSource(t)

	expiry := "2025-01-10"
	licenses := []models.OfflineLicense{
		{AgentID: "a1", DocumentNumber: "12345678901", Name: "Ana", LicenseStatus: models.LicenseActive, LicenseExpiresAt: &expiry},
	}
	if err := src.Publish(context.Background(), licenses, time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	data, ok := bucket.objects["plantao/licenses/latest.json"]
	if !ok {
		t.Fatalf("object not stored under default key; have %d objects", len(bucket.objects))
	}
	if !strings.Contains(string(data), `"documentNumber":"12345678901"`) {
		t.Errorf("object body = %s", data)
	}
}

const snapshotJSON = `{
	"generatedAt": "2025-01-09T12:00:00Z",
	"licenses": [
		{"agentId":"a1","documentNumber":"123.456.789-01","name":"Ana","licenseStatus":"active","licenseExpiresAt":"2025-01-10","cachedAt":0},
		{"agentId":"a2","documentNumber":"98765432100","name":"Bruno","licenseStatus":"blocked","licenseExpiresAt":null,"cachedAt":0}
	]
}`

func TestSnapshotLookup(t *testing.T) {
	src, bucket := newTestSource(t)
	bucket.objects["plantao/licenses/latest.json"] = []byte(snapshotJSON)
	ctx := context.Background()

	all, err := src.ListLicenses(ctx)
	if err != nil {
		t.Fatalf("ListLicenses: %v", err)
	}
	if len(all) != 2 || all[0].DocumentNumber != "12345678901" {
		t.Errorf("licenses = %+v, want normalized documents", all)
	}

	lic, err := src.LicenseByCPF(ctx, "987.654.321-00")
	if err != nil {
		t.Fatalf("LicenseByCPF: %v", err)
	}
	if lic.Name != "Bruno" || lic.LicenseStatus != models.LicenseBlocked {
		t.Errorf("license = %+v", lic)
	}
	if _, err := src.LicenseByCPF(ctx, "111"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("unknown cpf: err = %v", err)
	}
}

func TestSnapshotMissingObject(t *testing.T) {
	src, _ := newTestSource(t)
	if _, err := src.ListLicenses(context.Background()); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
