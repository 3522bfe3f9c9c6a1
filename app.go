package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"qtrack/internal/api"
	"qtrack/internal/config"
	"qtrack/internal/group"
	"qtrack/internal/quarter"
	"qtrack/internal/store"
	"qtrack/internal/tracker"
	"qtrack/internal/types"
)

var errRemoteOnly = errors.New("not available with remote.url set, run it on the server host")

// App holds what the commands share. engine is the local tracker service, or
// an HTTP client when remote.url is configured.
type App struct {
	cfg    *config.Config
	engine api.Engine
	svc    *tracker.Service
	store  *store.Store
	logger *slog.Logger
	out    io.Writer
	now    func() time.Time
}

func NewApp(out io.Writer) *App {
	return &App{out: out, now: time.Now, logger: slog.Default()}
}

// Open loads configuration and connects the engine.
func (a *App) Open(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(os.Stderr)
	slog.SetDefault(a.logger)

	if cfg.Remote.URL != "" {
		a.logger.Debug("using remote tracker", "url", cfg.Remote.URL)
		a.engine = api.NewClient(cfg.Remote.URL)
		return nil
	}

	st, err := store.New(ctx, cfg.Database.Driver, cfg.Database.Path, store.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.store = st
	a.svc = tracker.New(st, tracker.WithAuditor(st), tracker.WithLogger(a.logger), tracker.WithClock(a.now))
	a.engine = a.svc
	return nil
}

func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	st := a.store
	a.store, a.svc, a.engine = nil, nil, nil
	return st.Close()
}

func (a *App) actor() string {
	if a.cfg == nil {
		return ""
	}
	return a.cfg.Actor
}

func (a *App) currentQuarter() quarter.Quarter {
	return quarter.Current(a.now())
}

// labelOrCurrent resolves an optional --quarter flag.
func (a *App) labelOrCurrent(label string) (string, error) {
	if label == "" {
		return a.currentQuarter().Label(), nil
	}
	q, err := quarter.Parse(label)
	if err != nil {
		return "", err
	}
	return q.Label(), nil
}

func (a *App) ShowQuarter(at string) error {
	t := a.now()
	if at != "" {
		parsed, err := parseWhen(at, t)
		if err != nil {
			return err
		}
		t = parsed
	}
	q := quarter.Current(t)
	fmt.Fprintf(a.out, "%s (%s - %s)\n", q.Label(), q.Start().Format(dateLayout), q.End().AddDate(0, 0, -1).Format(dateLayout))
	return nil
}

func (a *App) Add(ctx context.Context, req tracker.AddRequest) error {
	req.Actor = a.actor()
	e, err := a.engine.AddEntry(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s #%d %s to %s (id %s)\n", e.Kind.Label(), e.SequenceNumber, e.GroupKey, e.QuarterLabel, e.ID)
	return nil
}

func (a *App) List(ctx context.Context, kind types.Kind, label string) error {
	label, err := a.labelOrCurrent(label)
	if err != nil {
		return err
	}
	groups, err := a.engine.Groups(ctx, kind, label)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Fprintf(a.out, "No %s entries in %s\n", kind.Label(), label)
		return nil
	}

	fmt.Fprintf(a.out, "%s - %s\n", label, kind.Label())
	headers := []string{"#", "Group", "ID", "Status", "Assignees", "Start", "End", "Notes"}
	PrintTable(a.out, headers, groupRows(groups), groupFooter(groups))
	return nil
}

// groupRows lays groups out with the number and key only on the first row
// of each group.
func groupRows(groups []group.Group) [][]string {
	var rows [][]string
	for _, g := range groups {
		for i, e := range g.Entries {
			num, key := "", ""
			if i == 0 {
				num, key = fmt.Sprint(g.SequenceNumber), g.Key
			}
			rows = append(rows, []string{
				num,
				key,
				e.ID,
				colorStatus(e.Status),
				strings.Join(e.Assignees, ", "),
				formatDate(e.StartDate),
				formatDate(e.EndDate),
				e.Notes,
			})
		}
	}
	return rows
}

func groupFooter(groups []group.Group) []string {
	entries := 0
	for _, g := range groups {
		entries += len(g.Entries)
	}
	return []string{"", fmt.Sprintf("%d groups", len(groups)), fmt.Sprintf("%d entries", entries), "", "", "", "", ""}
}

func (a *App) Sequence(ctx context.Context, kind types.Kind, label, groupKey string) error {
	label, err := a.labelOrCurrent(label)
	if err != nil {
		return err
	}
	n, err := a.engine.AllocateSequence(ctx, kind, label, groupKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s #%d in %s\n", groupKey, n, label)
	return nil
}

// Carry runs carry-forward. from defaults to the quarter before to, and to
// defaults to the current quarter.
func (a *App) Carry(ctx context.Context, kind types.Kind, from, to string) error {
	dst := a.currentQuarter()
	if to != "" {
		var err error
		if dst, err = quarter.Parse(to); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	src := dst.Prev()
	if from != "" {
		var err error
		if src, err = quarter.Parse(from); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	}

	res, err := a.engine.CarryForward(ctx, tracker.CarryRequest{
		Kind:          kind,
		SourceQuarter: src.Label(),
		SourceYear:    src.Year,
		TargetQuarter: dst.Label(),
		TargetYear:    dst.Year,
		Actor:         a.actor(),
	})
	if res != nil {
		fmt.Fprintln(a.out, res.Message())
	}
	return err
}

func (a *App) SetStatus(ctx context.Context, ids []string, status types.Status) error {
	res, err := a.engine.ApplyStatus(ctx, ids, status, a.actor())
	if res != nil {
		fmt.Fprintln(a.out, res.Message())
		for _, f := range res.Failed {
			fmt.Fprintf(a.out, "  %s: %s\n", f.ID, f.Reason)
		}
	}
	return err
}

func (a *App) Log(ctx context.Context, entityID string, limit int) error {
	if a.store == nil {
		return errRemoteOnly
	}
	records, err := a.store.ListAudit(ctx, entityID, limit)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.CreatedAt.Local().Format("Jan 02, 2006 15:04"),
			r.Actor,
			r.Action,
			r.EntityID,
			r.Details,
		})
	}
	PrintTable(a.out, []string{"When", "Actor", "Action", "Entity", "Details"}, rows, nil)
	return nil
}

func (a *App) Serve(ctx context.Context) error {
	if a.svc == nil {
		return errRemoteOnly
	}
	return api.NewServer(a.svc, a.logger).Run(ctx, a.cfg.Server.Addr)
}
