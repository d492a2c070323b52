package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "Dietfurt" || q.Get("units") != "metric" || q.Get("lang") != "de" || q.Get("appid") != "key" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"cod":"400","message":"bad query"}`)
			return
		}
		fmt.Fprint(w, `{"weather":[{"id":800,"main":"Clear","description":"klarer Himmel"}],"main":{"temp":5.2,"temp_min":3,"temp_max":7.5},"name":"Dietfurt"}`)
	}))
	defer srv.Close()

	w, err := NewClient("key", srv.URL, nil).Current(context.Background(), "Dietfurt")
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if w.Description != "klarer Himmel" || w.TempMin != 3 || w.TempMax != 7.5 {
		t.Errorf("unexpected weather: %+v", w)
	}
}

func TestCurrentErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"cod":401,"message":"Invalid API key"}`, nil},
		{"no conditions", http.StatusOK, `{"weather":[],"main":{}}`, ErrNoConditions},
		{"garbage", http.StatusOK, `not json`, nil},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			fmt.Fprint(w, tt.body)
		}))
		_, err := NewClient("key", srv.URL, nil).Current(context.Background(), "Dietfurt")
		srv.Close()
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}
