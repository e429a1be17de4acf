package backend_test

import (
	"testing"

	"github.com/golemfactory/gwasm-runner/pkg/backend"
)

func TestParseLocalAndBrass(t *testing.T) {
	b, err := backend.Parse("Local")
	if err != nil || b.Kind != backend.Local {
		t.Fatalf("expected Local, got %+v, %v", b, err)
	}
	b, err = backend.Parse("Brass")
	if err != nil || b.Kind != backend.Brass {
		t.Fatalf("expected Brass, got %+v, %v", b, err)
	}
}

func TestParseGU(t *testing.T) {
	b, err := backend.Parse("gu://10.0.0.5:61000")
	if err != nil {
		t.Fatal(err)
	}
	if b.Kind != backend.GU || b.Host != "10.0.0.5:61000" {
		t.Fatalf("unexpected parse: %+v", b)
	}
}

func TestParseYagna(t *testing.T) {
	b, err := backend.Parse("yagna://?token=secret&subnet=community.3")
	if err != nil {
		t.Fatal(err)
	}
	if b.Kind != backend.Yagna || b.Token != "secret" || b.Subnet != "community.3" {
		t.Fatalf("unexpected parse: %+v", b)
	}
}

func TestParseUnknownIsError(t *testing.T) {
	_, err := backend.Parse("bogus://thing")
	if _, ok := err.(backend.ErrUnknownBackend); !ok {
		t.Fatalf("expected ErrUnknownBackend, got %v (%T)", err, err)
	}
}
