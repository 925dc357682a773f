package config

import (
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	nested := map[string]any{
		"data_dir": "/tmp/x",
		"backend": map[string]any{
			"base_url": "http://localhost:8000",
			"app_name": "app",
		},
	}
	flat := Flatten(nested)
	want := map[string]any{
		"data_dir":         "/tmp/x",
		"backend.base_url": "http://localhost:8000",
		"backend.app_name": "app",
	}
	if !reflect.DeepEqual(flat, want) {
		t.Errorf("Flatten() = %v, want %v", flat, want)
	}
}

func TestUnflattenRoundTrip(t *testing.T) {
	nested := map[string]any{
		"log_level": "info",
		"retry": map[string]any{
			"max_attempts": float64(10),
		},
	}
	if got := Unflatten(Flatten(nested)); !reflect.DeepEqual(got, nested) {
		t.Errorf("round trip = %v, want %v", got, nested)
	}
}

func TestMaskSecrets(t *testing.T) {
	flat := map[string]any{
		"backend.api_key":  "abcdefgh",
		"backend.base_url": "http://localhost:8000",
	}
	masked := MaskSecrets(flat)
	if masked["backend.api_key"] != "***efgh" {
		t.Errorf("api_key = %v, want masked suffix", masked["backend.api_key"])
	}
	if masked["backend.base_url"] != "http://localhost:8000" {
		t.Errorf("base_url changed: %v", masked["backend.base_url"])
	}
}

func TestMaskSecretsShortAndEmpty(t *testing.T) {
	masked := MaskSecrets(map[string]any{"backend.api_key": "ab"})
	if masked["backend.api_key"] != "***ab" {
		t.Errorf("short key = %v, want ***ab", masked["backend.api_key"])
	}
	masked = MaskSecrets(map[string]any{"backend.api_key": ""})
	if masked["backend.api_key"] != "" {
		t.Errorf("empty key = %v, want empty", masked["backend.api_key"])
	}
}

func TestIsSecretKey(t *testing.T) {
	if !IsSecretKey("backend.api_key") {
		t.Error("backend.api_key should be secret")
	}
	if IsSecretKey("backend.base_url") {
		t.Error("backend.base_url should not be secret")
	}
}
