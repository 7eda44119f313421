package mutation

import (
	"context"
	"encoding/json"
	"log/slog"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/nodestore"
)

// ErrUnknownKind is reported when a request names a kind outside the
// supported set. Such requests are dropped, never fatal.
var ErrUnknownKind = ferrors.ValidationError("unknown mutation kind").Warning().Build()

// Store is the write surface mutations need.
type Store interface {
	UpsertNode(n nodestore.Node) error
	DeleteNode(id string) error
	TouchNode(id string) error
	SetField(id, name string, value any) error
	Link(parentID, childID string) error
	UpsertPage(p nodestore.Page) error
	DeletePage(path string) error
}

// Executor applies one request against a store.
type Executor interface {
	Execute(ctx context.Context, store Store, req Request) error
}

// HandlerFunc applies a decoded request.
type HandlerFunc func(ctx context.Context, store Store, args json.RawMessage) error

// Dispatcher routes requests to handlers by kind.
type Dispatcher struct {
	handlers map[Kind]HandlerFunc
	logger   *slog.Logger
}

// NewDispatcher returns a dispatcher wired with the built-in handlers.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger,
		handlers: map[Kind]HandlerFunc{
			KindCreateNode:            createNode,
			KindDeleteNode:            deleteNode,
			KindTouchNode:             touchNode,
			KindCreateNodeField:       createNodeField,
			KindCreateParentChildLink: createParentChildLink,
			KindCreatePage:            createPage,
			KindDeletePage:            deletePage,
		},
	}
}

// Execute applies req. Unknown kinds are logged and ignored.
func (d *Dispatcher) Execute(ctx context.Context, store Store, req Request) error {
	h, ok := d.handlers[req.Kind]
	if !ok {
		d.logger.WarnContext(ctx, "Ignoring unknown mutation kind",
			logfields.MutationKind(string(req.Kind)), logfields.Error(ErrUnknownKind))
		return nil
	}
	if store == nil {
		return ferrors.StoreError("no store available").WithContext("kind", string(req.Kind)).Build()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h(ctx, store, req.Args); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryMutation, "apply mutation").
			WithContext("kind", string(req.Kind)).Build()
	}
	return nil
}

func decode[T any](args json.RawMessage) (T, error) {
	var v T
	if len(args) == 0 {
		return v, ferrors.ValidationError("missing mutation payload").Build()
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return v, ferrors.WrapError(err, ferrors.CategoryValidation, "decode mutation payload").Build()
	}
	return v, nil
}

func createNode(_ context.Context, store Store, raw json.RawMessage) error {
	a, err := decode[CreateNodeArgs](raw)
	if err != nil {
		return err
	}
	if err := store.UpsertNode(nodestore.Node{ID: a.ID, Type: a.Type, Parent: a.Parent, Fields: a.Fields, Content: a.Content}); err != nil {
		return err
	}
	if a.Parent != "" {
		return store.Link(a.Parent, a.ID)
	}
	return nil
}

func deleteNode(_ context.Context, store Store, raw json.RawMessage) error {
	a, err := decode[NodeRef](raw)
	if err != nil {
		return err
	}
	return store.DeleteNode(a.ID)
}

func touchNode(_ context.Context, store Store, raw json.RawMessage) error {
	a, err := decode[NodeRef](raw)
	if err != nil {
		return err
	}
	return store.TouchNode(a.ID)
}

func createNodeField(_ context.Context, store Store, raw json.RawMessage) error {
	a, err := decode[CreateNodeFieldArgs](raw)
	if err != nil {
		return err
	}
	if a.Name == "" {
		return ferrors.ValidationError("field name is required").Build()
	}
	return store.SetField(a.NodeID, a.Name, a.Value)
}

func createParentChildLink(_ context.Context, store Store, raw json.RawMessage) error {
	a, err := decode[CreateParentChildLinkArgs](raw)
	if err != nil {
		return err
	}
	return store.Link(a.Parent, a.Child)
}

func createPage(_ context.Context, store Store, raw json.RawMessage) error {
	a, err := decode[CreatePageArgs](raw)
	if err != nil {
		return err
	}
	return store.UpsertPage(nodestore.Page{Path: a.Path, Component: a.Component, NodeID: a.NodeID, Context: a.Context})
}

func deletePage(_ context.Context, store Store, raw json.RawMessage) error {
	a, err := decode[PageRef](raw)
	if err != nil {
		return err
	}
	return store.DeletePage(a.Path)
}
