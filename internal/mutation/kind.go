// Package mutation defines the closed set of content mutations and the
// dispatcher that applies them to a store.
package mutation

import (
	"bytes"
	"encoding/json"
	"slices"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

// Kind names a store operation.
type Kind string

const (
	KindCreateNode            Kind = "createNode"
	KindDeleteNode            Kind = "deleteNode"
	KindTouchNode             Kind = "touchNode"
	KindCreateNodeField       Kind = "createNodeField"
	KindCreateParentChildLink Kind = "createParentChildLink"
	KindCreatePage            Kind = "createPage"
	KindDeletePage            Kind = "deletePage"
)

var allKinds = []Kind{
	KindCreateNode,
	KindDeleteNode,
	KindTouchNode,
	KindCreateNodeField,
	KindCreateParentChildLink,
	KindCreatePage,
	KindDeletePage,
}

// Kinds returns every supported kind.
func Kinds() []Kind { return slices.Clone(allKinds) }

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool { return slices.Contains(allKinds, k) }

func (k Kind) String() string { return string(k) }

// ParseKind returns the kind named s, or a warning-level validation error.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", ferrors.ValidationError("unknown mutation kind").Warning().WithContext("kind", s).Build()
	}
	return k, nil
}

// Request is one mutation as it travels from ingress to the store.
// On the wire it is {"type": "...", "payload": {...}}.
type Request struct {
	Kind Kind            `json:"type"`
	Args json.RawMessage `json:"payload,omitempty"`
}

// New builds a request, marshaling args as the payload.
func New(kind Kind, args any) (Request, error) {
	if args == nil {
		return Request{Kind: kind}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Request{}, ferrors.WrapError(err, ferrors.CategoryValidation, "encode mutation payload").
			WithContext("kind", string(kind)).Build()
	}
	return Request{Kind: kind, Args: raw}, nil
}

// Decode parses a single request object or an array of them and validates
// the payload of every known kind. Unknown kinds are accepted here; the
// orchestrator drops them.
func Decode(data []byte) ([]Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ferrors.ValidationError("empty mutation body").Build()
	}
	var reqs []Request
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "decode mutations").Build()
		}
	} else {
		var r Request
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "decode mutation").Build()
		}
		reqs = []Request{r}
	}
	for i, r := range reqs {
		if r.Kind == "" {
			return nil, ferrors.ValidationError("mutation type is required").WithContext("index", i).Build()
		}
		if !r.Kind.Valid() {
			continue
		}
		if err := r.Validate(); err != nil {
			if c, ok := ferrors.AsClassified(err); ok {
				return nil, c.WithContext("index", i)
			}
			return nil, err
		}
	}
	return reqs, nil
}
