package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/sitedev/internal/eventstore"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Session string `short:"s" help:"Print the raw event log of one session"`
	JSON    bool   `name:"json" help:"Emit JSON instead of a table"`
	Limit   int    `short:"n" help:"Show at most N most recent sessions (0 for all)" default:"20"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	store, err := eventstore.NewSQLiteStore(cfg.EventsPath())
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryEventStore, "open event store").
			WithContext("path", cfg.EventsPath()).Build()
	}
	defer func() { _ = store.Close() }()
	return h.render(context.Background(), store)
}

func (h *HistoryCmd) render(ctx context.Context, store eventstore.Store) error {
	if h.Session != "" {
		return h.renderSession(ctx, store)
	}
	proj := eventstore.NewSessionHistoryProjection(store)
	if err := proj.Rebuild(ctx); err != nil {
		return err
	}
	sessions := proj.List()
	if h.Limit > 0 && len(sessions) > h.Limit {
		sessions = sessions[:h.Limit]
	}
	if h.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(stdout, "No sessions recorded")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SESSION\tSTARTED\tSTATE\tBUILDS\tCOMMITS\tMUTATIONS\tERROR")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.SessionID, s.StartedAt.Local().Format(time.DateTime), s.State,
			s.Builds, s.Commits, s.CommittedMutations, s.ErrorMessage)
	}
	return tw.Flush()
}

type eventView struct {
	Time     time.Time         `json:"time"`
	Type     string            `json:"type"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *HistoryCmd) renderSession(ctx context.Context, store eventstore.Store) error {
	evts, err := store.GetBySession(ctx, h.Session)
	if err != nil {
		return err
	}
	if len(evts) == 0 {
		return ferrors.NotFoundError("session not found").WithContext("session_id", h.Session).Build()
	}
	if h.JSON {
		views := make([]eventView, len(evts))
		for i, e := range evts {
			views[i] = eventView{Time: e.Timestamp(), Type: e.Type(), Payload: e.Payload(), Metadata: e.Metadata()}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tTYPE\tPAYLOAD")
	for _, e := range evts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Timestamp().Local().Format(time.RFC3339Nano), e.Type(), e.Payload())
	}
	return tw.Flush()
}
