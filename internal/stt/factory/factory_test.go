package factory

import (
	"reflect"
	"testing"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/config"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt/mock"
)

func TestFactory_BuiltinNames(t *testing.T) {
	f := New(config.Default())

	want := []string{"google", "mock", "voxtral", "whisper"}
	if got := f.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	for _, name := range want {
		if !f.Known(name) {
			t.Errorf("expected %s to be registered", name)
		}
	}
	if f.Known("nope") {
		t.Error("unexpected provider registered")
	}
}

func TestFactory_Create(t *testing.T) {
	f := New(config.Default())

	p, err := f.Create("mock")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if p.Name() != "mock" {
		t.Errorf("expected mock, got %s", p.Name())
	}

	if _, err := f.Create("nope"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFactory_CreateReturnsFreshInstances(t *testing.T) {
	f := New(config.Default())

	a, _ := f.Create("mock")
	b, _ := f.Create("mock")
	if a == b {
		t.Error("expected distinct instances per Create call")
	}
}

func TestFactory_RegisterOverride(t *testing.T) {
	f := New(config.Default())

	scripted := mock.NewScripted(nil)
	f.Register("mock", func(config.ProviderConfig) stt.Provider { return scripted })

	p, err := f.Create("mock")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if p != stt.Provider(scripted) {
		t.Error("expected the overridden constructor to win")
	}
}
