// Package backend parses the `--backend` command-line value into a
// typed description of which compute backend a run targets. A backend
// that is unavailable in a given build simply declines to parse its
// URL; there is no build-tag machinery.
package backend

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind names one of the backends a run can target.
type Kind string

const (
	// Local runs split/exec/merge entirely on this machine.
	Local Kind = "Local"
	// Brass is the golem "Brass" marketplace backend.
	Brass Kind = "Brass"
	// GU targets a single gu-provider node directly.
	GU Kind = "gu"
	// Yagna targets the yagna daemon's local REST API.
	Yagna Kind = "yagna"
)

// Backend is a parsed `--backend` value.
type Backend struct {
	Kind Kind
	// Host is set for gu:// (host[:port]).
	Host string
	// Token and Subnet are set for yagna:// (?token=...&subnet=...).
	Token  string
	Subnet string
}

// ErrUnknownBackend is returned when spec matches no known backend
// token or URL scheme.
type ErrUnknownBackend struct {
	Spec string
}

func (e ErrUnknownBackend) Error() string {
	return fmt.Sprintf("%q is not a known backend (want Local, Brass, gu://host[:port], or yagna://?token=...)", e.Spec)
}

// Parse turns a `--backend` spec into a Backend, or ErrUnknownBackend
// if spec matches none of the recognized forms.
func Parse(spec string) (Backend, error) {
	switch {
	case spec == string(Local):
		return Backend{Kind: Local}, nil
	case spec == string(Brass):
		return Backend{Kind: Brass}, nil
	case strings.HasPrefix(spec, "gu://"):
		return parseGU(spec)
	case strings.HasPrefix(spec, "yagna://"):
		return parseYagna(spec)
	default:
		return Backend{}, ErrUnknownBackend{Spec: spec}
	}
}

func parseGU(spec string) (Backend, error) {
	u, err := url.Parse(spec)
	if err != nil || u.Host == "" {
		return Backend{}, ErrUnknownBackend{Spec: spec}
	}
	return Backend{Kind: GU, Host: u.Host}, nil
}

func parseYagna(spec string) (Backend, error) {
	u, err := url.Parse(spec)
	if err != nil {
		return Backend{}, ErrUnknownBackend{Spec: spec}
	}
	q := u.Query()
	return Backend{
		Kind:   Yagna,
		Token:  q.Get("token"),
		Subnet: q.Get("subnet"),
	}, nil
}
