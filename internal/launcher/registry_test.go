package launcher_test

import (
	"context"
	"errors"
	"testing"

	"github.com/seantiz/remote-playwright/internal/launcher"
	"github.com/seantiz/remote-playwright/internal/model"
)

// stubLauncher is a minimal Launcher for registry tests.
type stubLauncher struct {
	name string
}

func (s *stubLauncher) Launch(_ context.Context, _ launcher.Request) (launcher.Server, error) {
	return nil, errors.New("not implemented")
}

func (s *stubLauncher) Info() launcher.Info {
	return launcher.Info{Name: s.name, Driver: "stub"}
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := launcher.NewRegistry()

	reg.Register(model.EngineWebKit, &stubLauncher{name: "wk"})
	reg.Register(model.EngineChromium, &stubLauncher{name: "cr"})
	reg.Register(model.EngineFirefox, &stubLauncher{name: "fx"})

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("List() returned %d launchers, want 3", len(list))
	}

	want := []model.Engine{model.EngineChromium, model.EngineFirefox, model.EngineWebKit}
	for i, info := range list {
		if info.Engine != want[i] {
			t.Errorf("List()[%d].Engine = %q, want %q", i, info.Engine, want[i])
		}
	}
	if list[0].Name != "cr" {
		t.Errorf("List()[0].Name = %q, want %q", list[0].Name, "cr")
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := launcher.NewRegistry()
	reg.Register(model.EngineFirefox, &stubLauncher{name: "fx"})

	l, err := reg.Resolve(model.EngineFirefox)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.Info().Name != "fx" {
		t.Errorf("resolved launcher name = %q, want %q", l.Info().Name, "fx")
	}
}

func TestRegistryResolveNotRegistered(t *testing.T) {
	reg := launcher.NewRegistry()

	_, err := reg.Resolve(model.EngineWebKit)
	if !errors.Is(err, launcher.ErrNotRegistered) {
		t.Errorf("Resolve error = %v, want ErrNotRegistered", err)
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	reg := launcher.NewRegistry()
	reg.Register(model.EngineChromium, &stubLauncher{name: "old"})
	reg.Register(model.EngineChromium, &stubLauncher{name: "new"})

	l, err := reg.Resolve(model.EngineChromium)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.Info().Name != "new" {
		t.Errorf("resolved launcher name = %q, want %q", l.Info().Name, "new")
	}
	if n := len(reg.List()); n != 1 {
		t.Errorf("List() returned %d launchers, want 1", n)
	}
}

func TestLaunchErrorUnwrap(t *testing.T) {
	inner := errors.New("executable doesn't exist")
	err := &launcher.LaunchError{Engine: model.EngineFirefox, Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is(LaunchError, inner) = false")
	}
	if got := err.Error(); got != "launch firefox: executable doesn't exist" {
		t.Errorf("Error() = %q", got)
	}
}
