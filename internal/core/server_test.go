package core

import (
	"context"
	"testing"

	"facilitypm/internal/config"
)

func TestNewServer(t *testing.T) {
	srv, err := NewServer(&config.Config{Environment: "local"}, discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if srv.Validator == nil || srv.Router() == nil || srv.Handler() == nil {
		t.Error("server not fully initialised")
	}
}

func TestNewServer_RequiresConfigAndLogger(t *testing.T) {
	if _, err := NewServer(nil, discardLogger()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestServer_ShutdownRunsClosers(t *testing.T) {
	srv := newTestServer(t)
	var order []string
	srv.Closers = append(srv.Closers,
		func() { order = append(order, "trigger") },
		func() { order = append(order, "pool") },
	)

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(order) != 2 || order[0] != "trigger" || order[1] != "pool" {
		t.Errorf("closers ran as %v", order)
	}
}
