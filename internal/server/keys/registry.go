// Package keys holds the Ed25519 key material used to sign and verify
// session tokens.
//
// A Registry is built once at start-up and never changes afterwards. It has
// exactly one active signing key and any number of trusted verification keys
// addressed by kid, so tokens signed by a retired key keep verifying until
// they expire.
package keys

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SigningKey is the active key pair.
type SigningKey struct {
	KeyID    string
	Private  ed25519.PrivateKey
	Public   ed25519.PublicKey
	LoadedAt time.Time
}

type Registry struct {
	active  SigningKey
	trusted map[string]ed25519.PublicKey
}

// NewRegistry validates the material and copies it into a Registry. The
// active key is always trusted; a historical entry that reuses the active
// kid must carry the same public key.
func NewRegistry(active SigningKey, historical map[string]ed25519.PublicKey) (*Registry, error) {
	if strings.TrimSpace(active.KeyID) == "" {
		return nil, errors.New("active key id is empty")
	}
	if len(active.Private) != ed25519.PrivateKeySize {
		return nil, errors.New("active key is not an ed25519 private key")
	}
	derived, _ := active.Private.Public().(ed25519.PublicKey)
	if active.Public == nil {
		active.Public = derived
	}
	if !bytes.Equal(active.Public, derived) {
		return nil, errors.New("active public key does not match private key")
	}

	trusted := make(map[string]ed25519.PublicKey, len(historical)+1)
	for kid, pub := range historical {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verification key with empty kid")
		}
		if len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("verification key %q is not an ed25519 public key", kid)
		}
		if kid == active.KeyID && !bytes.Equal(pub, active.Public) {
			return nil, fmt.Errorf("kid %q is bound to two different keys", kid)
		}
		trusted[kid] = bytes.Clone(pub)
	}
	trusted[active.KeyID] = bytes.Clone(active.Public)

	active.Private = bytes.Clone(active.Private)
	active.Public = bytes.Clone(active.Public)

	return &Registry{active: active, trusted: trusted}, nil
}

// Active returns the signing key.
func (r *Registry) Active() SigningKey { return r.active }

// VerificationKey returns the trusted public key for kid.
func (r *Registry) VerificationKey(kid string) (ed25519.PublicKey, bool) {
	k, ok := r.trusted[kid]
	return k, ok
}

// KeyIDs lists trusted kids in lexical order.
func (r *Registry) KeyIDs() []string {
	out := make([]string, 0, len(r.trusted))
	for kid := range r.trusted {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

// Source fetches a PEM document by location (a path, an object key, ...).
type Source interface {
	Load(ctx context.Context, location string) ([]byte, error)
}

// Spec names the documents a Registry is loaded from.
type Spec struct {
	ActiveKeyID    string
	ActiveLocation string
	// Trusted maps kid to the location of a public (or private) key PEM.
	Trusted map[string]string
}

// Load reads every key named in spec from src and builds a Registry. Any
// missing or unparsable document fails the whole load.
func Load(ctx context.Context, src Source, spec Spec, now time.Time) (*Registry, error) {
	doc, err := src.Load(ctx, spec.ActiveLocation)
	if err != nil {
		return nil, fmt.Errorf("load active key %q: %w", spec.ActiveKeyID, err)
	}
	priv, err := ParsePrivateKeyPEM(doc)
	if err != nil {
		return nil, fmt.Errorf("parse active key %q: %w", spec.ActiveKeyID, err)
	}

	historical := make(map[string]ed25519.PublicKey, len(spec.Trusted))
	for kid, loc := range spec.Trusted {
		doc, err := src.Load(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("load verification key %q: %w", kid, err)
		}
		pub, err := ParsePublicKeyPEM(doc)
		if err != nil {
			return nil, fmt.Errorf("parse verification key %q: %w", kid, err)
		}
		historical[kid] = pub
	}

	return NewRegistry(SigningKey{
		KeyID:    spec.ActiveKeyID,
		Private:  priv,
		LoadedAt: now,
	}, historical)
}
