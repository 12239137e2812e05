// Package refspec parses and formats rlxos refspecs of the shape
// "remote:arch/kind/id[/channel]".
package refspec

import (
	"errors"
	"strings"

	"github.com/rlxos/updated/internal/engineerr"
)

// Kind distinguishes a base OS commit from an extension overlay.
type Kind string

const (
	KindOS        Kind = "os"
	KindExtension Kind = "extension"
)

// Refspec is a parsed "[<remote>:]<arch>/<kind>/<id>[/<channel>]".
type Refspec struct {
	Remote  string // empty if not present in the original string
	Arch    string
	Kind    Kind
	ID      string // interior segments; empty for a three-segment os refspec
	Channel string
}

// Parse splits s into its remote prefix and slash-delimited segments.
// The segment at index 0 is arch, 1 is kind, the last is channel, and
// any interior segments form id (for the usual four-segment extension
// refspec that is the segment at index 2). Parsing never mutates the trailing-segment
// ambiguity: index-based extraction means a channel name that happens
// to collide with another segment's value is never confused with it.
func Parse(s string) (Refspec, error) {
	remote := ""
	rest := s
	if idx := strings.Index(s, ":"); idx >= 0 {
		remote = s[:idx]
		rest = s[idx+1:]
	}

	segs := strings.Split(rest, "/")
	if len(segs) < 3 {
		return Refspec{}, engineerr.Wrap(engineerr.KindBadRefspec, "fewer than three segments", errors.New(s))
	}
	for _, seg := range segs {
		if seg == "" {
			return Refspec{}, engineerr.Wrap(engineerr.KindBadRefspec, "empty segment", errors.New(s))
		}
	}

	arch := segs[0]
	kind := Kind(segs[1])
	if kind != KindOS && kind != KindExtension {
		return Refspec{}, engineerr.Wrap(engineerr.KindBadRefspec, "unknown kind "+segs[1], errors.New(s))
	}
	channel := segs[len(segs)-1]

	id := strings.Join(segs[2:len(segs)-1], "/")
	if kind == KindExtension && id == "" {
		return Refspec{}, engineerr.Wrap(engineerr.KindBadRefspec, "extension refspec missing id", errors.New(s))
	}

	return Refspec{
		Remote:  remote,
		Arch:    arch,
		Kind:    kind,
		ID:      id,
		Channel: channel,
	}, nil
}

// Format is the inverse of Parse: format(parse(s)) == s for any
// well-formed s.
func (r Refspec) Format() string {
	var b strings.Builder
	if r.Remote != "" {
		b.WriteString(r.Remote)
		b.WriteString(":")
	}
	b.WriteString(r.Arch)
	b.WriteString("/")
	b.WriteString(string(r.Kind))
	b.WriteString("/")
	if r.ID != "" {
		b.WriteString(r.ID)
		b.WriteString("/")
	}
	b.WriteString(r.Channel)
	return b.String()
}

// WithChannel returns a copy of r with only the channel segment
// replaced; every other segment is left untouched even if it happens
// to equal the old channel value.
func (r Refspec) WithChannel(channel string) Refspec {
	r.Channel = channel
	return r
}

// Bare returns the refspec with the remote prefix stripped, as used
// when building the ref list passed to the object store's pull
// operation (the remote is supplied out of band there).
func (r Refspec) Bare() string {
	cp := r
	cp.Remote = ""
	return cp.Format()
}
