package config

import (
	"strings"
	"testing"
	"time"
)

func FuzzEnvOrDefault(f *testing.F) {
	f.Add("", ":8080")
	f.Add("  :9090  ", ":8080")

	f.Fuzz(func(t *testing.T, value, fallback string) {
		if strings.ContainsRune(value, '\x00') {
			t.Skip()
		}

		const key = "FLAGDECK_TEST_ENV_OR_DEFAULT"
		t.Setenv(key, value)

		got := envOrDefault(key, fallback)
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			if got != fallback {
				t.Fatalf("envOrDefault() = %q, want fallback %q", got, fallback)
			}
			return
		}

		if got != trimmed {
			t.Fatalf("envOrDefault() = %q, want trimmed value %q", got, trimmed)
		}
	})
}

func FuzzLoadStoreTimeout(f *testing.F) {
	f.Add("")
	f.Add("1s")
	f.Add("0s")
	f.Add("-1s")
	f.Add("not-a-duration")

	f.Fuzz(func(t *testing.T, storeTimeout string) {
		if strings.ContainsRune(storeTimeout, '\x00') {
			t.Skip()
		}

		clearEnv(t)
		t.Setenv("STORE_TIMEOUT", storeTimeout)

		cfg, err := Load()
		trimmed := strings.TrimSpace(storeTimeout)
		if trimmed == "" {
			if err != nil {
				t.Fatalf("Load() error = %v, want nil for empty STORE_TIMEOUT", err)
			}
			if cfg.StoreTimeout != defaultStoreTimeout {
				t.Fatalf("StoreTimeout = %v, want %v", cfg.StoreTimeout, defaultStoreTimeout)
			}
			return
		}

		parsed, parseErr := time.ParseDuration(trimmed)
		if parseErr != nil || parsed <= 0 {
			if err == nil {
				t.Fatalf("Load() error = nil, want error for STORE_TIMEOUT=%q", storeTimeout)
			}
			return
		}

		if err != nil {
			t.Fatalf("Load() error = %v, want nil for STORE_TIMEOUT=%q", err, storeTimeout)
		}
		if cfg.StoreTimeout != parsed {
			t.Fatalf("StoreTimeout = %v, want %v", cfg.StoreTimeout, parsed)
		}
	})
}

func FuzzLoadBlobStore(f *testing.F) {
	f.Add("")
	f.Add("pebble")
	f.Add("MEMORY")
	f.Add("dynamo")

	f.Fuzz(func(t *testing.T, store string) {
		if strings.ContainsRune(store, '\x00') {
			t.Skip()
		}

		clearEnv(t)
		t.Setenv("BLOB_STORE", store)
		t.Setenv("DATABASE_URL", "postgres://localhost/test")
		t.Setenv("REDIS_URL", "redis://localhost:6379/0")

		cfg, err := Load()
		if err != nil {
			return
		}
		switch cfg.BlobStore {
		case StoreMemory, StorePebble, StorePostgres, StoreRedis:
		default:
			t.Fatalf("Load() accepted BLOB_STORE=%q as %q", store, cfg.BlobStore)
		}
	})
}
