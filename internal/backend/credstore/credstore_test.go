package credstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func writeCreds(t *testing.T, path string, creds Credentials) {
	t.Helper()
	data, err := json.Marshal(creds)
	if err != nil {
		t.Fatalf("marshaling credentials: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing credentials: %v", err)
	}
}

func TestCredentials_Expired(t *testing.T) {
	cases := []struct {
		name string
		c    Credentials
		want bool
	}{
		{"zero expiry date treated as expired", Credentials{}, true},
		{"far future", Credentials{ExpiryDate: time.Now().Add(time.Hour).UnixMilli()}, false},
		{"already past", Credentials{ExpiryDate: time.Now().Add(-time.Hour).UnixMilli()}, true},
		{"inside the 30s safety margin", Credentials{ExpiryDate: time.Now().Add(5 * time.Second).UnixMilli()}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.Expired(); got != tc.want {
				t.Errorf("Expired() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStore_Get_RefreshesExpiredCredentialOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oauth_creds.json")
	writeCreds(t, path, Credentials{
		AccessToken: "stale-token",
		TokenType:   "Bearer",
		ExpiryDate:  time.Now().Add(-time.Minute).UnixMilli(),
	})

	var refreshCount int32
	refresh := func(ctx context.Context, current Credentials) (Credentials, error) {
		atomic.AddInt32(&refreshCount, 1)
		time.Sleep(20 * time.Millisecond)
		return Credentials{
			AccessToken: "fresh-token",
			TokenType:   "Bearer",
			ExpiryDate:  time.Now().Add(time.Hour).UnixMilli(),
		}, nil
	}

	store, err := Open(path, refresh, nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	const concurrency = 8
	var wg sync.WaitGroup
	results := make([]Credentials, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds, err := store.Get(context.Background())
			if err != nil {
				t.Errorf("Get() error: %v", err)
				return
			}
			results[i] = creds
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&refreshCount); got != 1 {
		t.Errorf("refresh called %d times, want exactly 1", got)
	}
	for i, creds := range results {
		if creds.AccessToken != "fresh-token" {
			t.Errorf("result[%d].AccessToken = %q, want %q", i, creds.AccessToken, "fresh-token")
		}
	}

	persisted, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading persisted credentials: %v", err)
	}
	var onDisk Credentials
	if err := json.Unmarshal(persisted, &onDisk); err != nil {
		t.Fatalf("parsing persisted credentials: %v", err)
	}
	if onDisk.AccessToken != "fresh-token" {
		t.Errorf("persisted AccessToken = %q, want %q", onDisk.AccessToken, "fresh-token")
	}
}

func TestStore_Get_NoRefreshFuncReturnsCurrentCredentialAsIs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oauth_creds.json")
	writeCreds(t, path, Credentials{
		AccessToken: "stale-token",
		ExpiryDate:  time.Now().Add(-time.Minute).UnixMilli(),
	})

	store, err := Open(path, nil, nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	creds, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if creds.AccessToken != "stale-token" {
		t.Errorf("AccessToken = %q, want %q (refresh is nil, should pass through)", creds.AccessToken, "stale-token")
	}
}

func TestStore_ReloadsOnOutOfBandWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oauth_creds.json")
	writeCreds(t, path, Credentials{
		AccessToken: "first-token",
		ExpiryDate:  time.Now().Add(time.Hour).UnixMilli(),
	})

	store, err := Open(path, nil, nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	writeCreds(t, path, Credentials{
		AccessToken: "rotated-token",
		ExpiryDate:  time.Now().Add(time.Hour).UnixMilli(),
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		creds, err := store.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if creds.AccessToken == "rotated-token" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("store never picked up the out-of-band credential rotation")
}
