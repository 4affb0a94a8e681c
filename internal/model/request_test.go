package model

import (
	"net/http"
	"testing"
)

func TestLimitsNormalize(t *testing.T) {
	limits := Limits{MaxWidth: 1920, MaxHeight: 1080}

	tests := []struct {
		name          string
		width, height int
		want          ThumbnailParameters
	}{
		{"within bounds", 100, 50, ThumbnailParameters{Width: 100, Height: 50}},
		{"at the limits", 1920, 1080, ThumbnailParameters{Width: 1920, Height: 1080}},
		{"width above max", 5000, 50, ThumbnailParameters{Width: 0, Height: 50}},
		{"height above max", 100, 1081, ThumbnailParameters{Width: 100, Height: 0}},
		{"negative", -1, -20, ThumbnailParameters{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := limits.Normalize(tt.width, tt.height)
			if got != tt.want {
				t.Fatalf("Normalize(%d, %d) = %+v, want %+v", tt.width, tt.height, got, tt.want)
			}
		})
	}
}

func TestRequestContextReleaseRunsCleanupsOnceInReverse(t *testing.T) {
	rc := NewRequestContext("/thumb/cat.png")

	var order []int
	rc.Defer(func() { order = append(order, 1) })
	rc.Defer(func() { order = append(order, 2) })

	rc.Release()
	rc.Release()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected cleanup order: %v", order)
	}
	if !rc.Released() {
		t.Fatal("expected context to be released")
	}
}

func TestRequestContextDefaultsToInternalError(t *testing.T) {
	rc := NewRequestContext("/thumb/cat.png")

	if rc.State != StateReceived {
		t.Fatalf("state = %s, want %s", rc.State, StateReceived)
	}
	if rc.Code != http.StatusInternalServerError || rc.Message != "Internal Server Error" {
		t.Fatalf("unexpected default outcome: %d %q", rc.Code, rc.Message)
	}

	rc.Fail(http.StatusNotFound, "Document was not found")
	if rc.State != StateError || !rc.State.Terminal() {
		t.Fatalf("expected terminal error state, got %s", rc.State)
	}
	if rc.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want %d", rc.Code, http.StatusNotFound)
	}
}

func TestStateString(t *testing.T) {
	if got := StateHeadersSet.String(); got != "headers_set" {
		t.Fatalf("unexpected name: %q", got)
	}
	if got := State(42).String(); got != "unknown" {
		t.Fatalf("unexpected name for invalid state: %q", got)
	}
}
