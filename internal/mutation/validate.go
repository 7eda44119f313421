package mutation

import (
	"encoding/json"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

type payload interface {
	validate() error
}

// Validate decodes the payload of r for its kind and checks required
// fields. A request that passes can only fail later on store state.
func (r Request) Validate() error {
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	var err error
	switch r.Kind {
	case KindCreateNode:
		err = check[CreateNodeArgs](r.Args)
	case KindDeleteNode, KindTouchNode:
		err = check[NodeRef](r.Args)
	case KindCreateNodeField:
		err = check[CreateNodeFieldArgs](r.Args)
	case KindCreateParentChildLink:
		err = check[CreateParentChildLinkArgs](r.Args)
	case KindCreatePage:
		err = check[CreatePageArgs](r.Args)
	case KindDeletePage:
		err = check[PageRef](r.Args)
	}
	if err != nil {
		if c, ok := ferrors.AsClassified(err); ok {
			return c.WithContext("kind", string(r.Kind))
		}
		return err
	}
	return nil
}

func check[T payload](raw json.RawMessage) error {
	a, err := decode[T](raw)
	if err != nil {
		return err
	}
	return a.validate()
}

func required(field, value string) error {
	if value == "" {
		return ferrors.ValidationError("mutation payload field is required").WithContext("field", field).Build()
	}
	return nil
}

func (a CreateNodeArgs) validate() error {
	if err := required("id", a.ID); err != nil {
		return err
	}
	return required("type", a.Type)
}

func (a NodeRef) validate() error { return required("id", a.ID) }

func (a CreateNodeFieldArgs) validate() error {
	if err := required("nodeId", a.NodeID); err != nil {
		return err
	}
	return required("name", a.Name)
}

func (a CreateParentChildLinkArgs) validate() error {
	if err := required("parent", a.Parent); err != nil {
		return err
	}
	return required("child", a.Child)
}

func (a CreatePageArgs) validate() error { return required("path", a.Path) }

func (a PageRef) validate() error { return required("path", a.Path) }
