package pipeline

import (
	"reflect"
	"strings"
)

// Identity names one middleware registration. It is the key the resolution
// scope is asked for at run time and the node name in the constraint graph.
type Identity string

// IdentityOf derives an Identity from a Go type. Pointer types resolve to
// their element type, so IdentityOf[*Auth] and IdentityOf[Auth] are equal.
func IdentityOf[T any]() Identity {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return Identity(t.String())
	}
	return Identity(t.PkgPath() + "." + t.Name())
}

// Name returns the last path element of the identity, e.g. "Auth" for
// "github.com/acme/mw.Auth". Used for display only.
func (id Identity) Name() string {
	s := string(id)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return string(id)
}

// Kind selects which middleware contract a registration satisfies.
type Kind int

const (
	// KindBlocking registrations resolve to Middleware[C].
	KindBlocking Kind = iota
	// KindAsync registrations resolve to AsyncMiddleware[C].
	KindAsync
)

func (k Kind) String() string {
	switch k {
	case KindBlocking:
		return "blocking"
	case KindAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Descriptor is the build-time metadata for one registration.
type Descriptor struct {
	Identity Identity
	Kind     Kind

	// Order is the coarse priority. Lower runs earlier among unconstrained
	// peers. Zero when not set.
	Order int

	// Before lists identities this middleware must run before.
	Before []Identity

	// After lists identities this middleware must run after.
	After []Identity
}

// Option configures a Descriptor at registration time.
type Option func(*Descriptor)

// WithOrder sets the coarse order.
func WithOrder(order int) Option {
	return func(d *Descriptor) {
		d.Order = order
	}
}

// RunBefore adds "run before" constraints.
func RunBefore(ids ...Identity) Option {
	return func(d *Descriptor) {
		d.Before = append(d.Before, ids...)
	}
}

// RunAfter adds "run after" constraints.
func RunAfter(ids ...Identity) Option {
	return func(d *Descriptor) {
		d.After = append(d.After, ids...)
	}
}

// Describe builds a Descriptor from an identity and registration options.
// Repeated constraint targets are collapsed, keeping the first occurrence.
func Describe(id Identity, kind Kind, opts ...Option) Descriptor {
	d := Descriptor{Identity: id, Kind: kind}
	for _, opt := range opts {
		opt(&d)
	}
	d.Before = distinct(d.Before)
	d.After = distinct(d.After)
	return d
}

// clone returns a deep copy so later edits to the caller's slices never
// reach a compiled chain.
func (d Descriptor) clone() Descriptor {
	d.Before = append([]Identity(nil), d.Before...)
	d.After = append([]Identity(nil), d.After...)
	return d
}

func distinct(ids []Identity) []Identity {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[Identity]bool, len(ids))
	out := make([]Identity, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
