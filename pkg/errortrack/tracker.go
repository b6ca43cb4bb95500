package errortrack

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

const (
	DefaultSpikeThreshold    = 10
	DefaultSpikeWindow       = 10 * time.Minute
	DefaultMaxInstances      = 100
	DefaultResolvedRetention = 7 * 24 * time.Hour
	// DefaultHitHorizon bounds how far back occurrence timestamps are
	// kept for spike detection and trending.
	DefaultHitHorizon = 48 * time.Hour
	maxHitsPerGroup   = 10000
)

// Store persists groups and instances.
type Store interface {
	SaveErrorGroups(ctx context.Context, groups []Group) error
	SaveErrorInstances(ctx context.Context, instances []Instance) error
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPatterns replaces the message pattern table.
func WithPatterns(p []Pattern) Option { return func(t *Tracker) { t.patterns = p } }

// WithNotifiers sets the alert destinations.
func WithNotifiers(n ...Notifier) Option { return func(t *Tracker) { t.notifiers = n } }

// WithSpike sets how many occurrences within window raise a spike alert.
func WithSpike(threshold int, window time.Duration) Option {
	return func(t *Tracker) { t.spikeThreshold, t.spikeWindow = threshold, window }
}

// WithMaxInstances bounds the instances kept in memory per group.
func WithMaxInstances(n int) Option { return func(t *Tracker) { t.maxInstances = n } }

// WithResolvedRetention sets how long closed groups are kept after their
// last occurrence.
func WithResolvedRetention(d time.Duration) Option { return func(t *Tracker) { t.retention = d } }

// WithStore sets where Flush writes.
func WithStore(s Store) Option { return func(t *Tracker) { t.store = s } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Tracker) { t.logger = l } }

type group struct {
	Group
	components map[string]struct{}
	users      map[string]struct{}
	orgs       map[string]struct{}
	hits       []time.Time
	instances  []Instance
	lastSpike  time.Time
	dirty      bool
}

func (g *group) snapshot() Group {
	out := g.Group
	out.Components = sortedKeys(g.components)
	out.Users = sortedKeys(g.users)
	out.Orgs = sortedKeys(g.orgs)
	if g.ResolvedAt != nil {
		at := *g.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}

func (g *group) countSince(from, to time.Time) int {
	n := 0
	for _, h := range g.hits {
		if !h.Before(from) && h.Before(to) {
			n++
		}
	}
	return n
}

// Tracker groups errors. It is safe for concurrent use.
type Tracker struct {
	patterns       []Pattern
	notifiers      []Notifier
	spikeThreshold int
	spikeWindow    time.Duration
	maxInstances   int
	retention      time.Duration
	store          Store
	now            func() time.Time
	logger         *slog.Logger

	mu      sync.Mutex
	groups  map[string]*group
	pending []Instance

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		patterns:       DefaultPatterns(),
		spikeThreshold: DefaultSpikeThreshold,
		spikeWindow:    DefaultSpikeWindow,
		maxInstances:   DefaultMaxInstances,
		retention:      DefaultResolvedRetention,
		now:            time.Now,
		logger:         slog.Default(),
		groups:         make(map[string]*group),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track records one occurrence and returns the updated group. Alerts
// are delivered before Track returns; notifier failures are logged.
func (t *Tracker) Track(ctx context.Context, r Report) (Group, error) {
	msg := r.message()
	if msg == "" {
		return Group{}, sserr.New(sserr.CodeValidationRequired, "error report needs an error or a message")
	}
	errType := r.errorType()
	normMsg := NormalizeMessage(msg)
	normStack := NormalizeStack(r.Stack)
	id := Fingerprint(normMsg, normStack)
	now := t.now().UTC()

	inst := Instance{
		ID:          uuid.NewString(),
		GroupID:     id,
		Message:     msg,
		Stack:       r.Stack,
		Component:   r.Component,
		UserID:      r.UserID,
		OrgID:       r.OrgID,
		ExecutionID: r.ExecutionID,
		Context:     maps.Clone(r.Context),
		Timestamp:   now,
	}

	var alerts []Alert
	t.mu.Lock()
	g, ok := t.groups[id]
	if !ok {
		c := t.classify(r, msg, errType)
		g = &group{
			Group: Group{
				ID:                id,
				ErrorType:         errType,
				Message:           msg,
				NormalizedMessage: normMsg,
				NormalizedStack:   normStack,
				Category:          c.Category,
				Severity:          c.Severity,
				Retryable:         c.Retryable,
				Hint:              c.Hint,
				Status:            StatusNew,
				FirstSeen:         now,
			},
			components: make(map[string]struct{}),
			users:      make(map[string]struct{}),
			orgs:       make(map[string]struct{}),
		}
		t.groups[id] = g
	} else if g.Status == StatusResolved {
		g.Status = StatusReopened
		g.ResolvedAt = nil
		if g.Severity.AtLeast(SeverityHigh) {
			alerts = append(alerts, Alert{Kind: AlertReopened, Count: 1})
		}
	}
	if r.Severity.Valid() && r.Severity.AtLeast(g.Severity) {
		g.Severity = r.Severity
	}

	g.Count++
	g.LastSeen = now
	g.dirty = true
	addTo(g.components, r.Component)
	addTo(g.users, r.UserID)
	addTo(g.orgs, r.OrgID)
	g.instances = append(g.instances, inst)
	if over := len(g.instances) - t.maxInstances; over > 0 {
		g.instances = slices.Clone(g.instances[over:])
	}
	if t.store != nil {
		t.pending = append(t.pending, inst)
	}

	g.hits = append(g.hits, now)
	horizon := max(DefaultHitHorizon, 2*t.spikeWindow)
	g.hits = pruneBefore(g.hits, now.Add(-horizon))
	if over := len(g.hits) - maxHitsPerGroup; over > 0 {
		g.hits = slices.Clone(g.hits[over:])
	}

	if !ok && g.Severity.AtLeast(SeverityCritical) {
		alerts = append(alerts, Alert{Kind: AlertNewCritical, Count: 1})
	}
	if t.spikeThreshold > 0 && g.Status != StatusIgnored {
		windowStart := now.Add(-t.spikeWindow)
		inWindow := g.countSince(windowStart, now.Add(time.Nanosecond))
		if inWindow >= t.spikeThreshold && (g.lastSpike.IsZero() || !now.Before(g.lastSpike.Add(t.spikeWindow))) {
			g.lastSpike = now
			alerts = append(alerts, Alert{Kind: AlertSpike, Count: inWindow, Window: t.spikeWindow})
		}
	}
	snap := g.snapshot()
	t.mu.Unlock()

	for _, a := range alerts {
		a.Group = snap
		a.RaisedAt = now
		t.dispatch(ctx, a)
	}
	return snap, nil
}

func (t *Tracker) dispatch(ctx context.Context, a Alert) {
	t.logger.Warn("errortrack: alert raised",
		"kind", a.Kind, "group_id", a.Group.ID, "severity", a.Group.Severity, "count", a.Count)
	for _, n := range t.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			t.logger.Error("errortrack: notifier failed", "notifier", n.Name(), "error", err)
		}
	}
}

// SetStatus moves a group to status.
func (t *Tracker) SetStatus(groupID string, status Status) (Group, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[groupID]
	if !ok {
		return Group{}, sserr.NotFoundf("error group %q not found", groupID)
	}
	if g.Status == status {
		return g.snapshot(), nil
	}
	if !g.Status.CanTransitionTo(status) {
		return Group{}, sserr.Newf(sserr.CodeConflictState, "cannot move error group from %s to %s", g.Status, status)
	}
	g.Status = status
	if status == StatusResolved {
		at := t.now().UTC()
		g.ResolvedAt = &at
	} else {
		g.ResolvedAt = nil
	}
	g.dirty = true
	return g.snapshot(), nil
}

// Filter selects groups. Zero fields match everything.
type Filter struct {
	Status      Status
	MinSeverity Severity
	Category    Category
	Component   string
	OrgID       string
	Since       time.Time
	OpenOnly    bool
}

func (f Filter) match(g *group) bool {
	switch {
	case f.Status != "" && g.Status != f.Status:
		return false
	case f.MinSeverity != "" && !g.Severity.AtLeast(f.MinSeverity):
		return false
	case f.Category != "" && g.Category != f.Category:
		return false
	case f.OpenOnly && !g.Status.Open():
		return false
	case !f.Since.IsZero() && g.LastSeen.Before(f.Since):
		return false
	}
	if f.Component != "" {
		if _, ok := g.components[f.Component]; !ok {
			return false
		}
	}
	if f.OrgID != "" {
		if _, ok := g.orgs[f.OrgID]; !ok {
			return false
		}
	}
	return true
}

// Groups returns the groups matching f, most recently seen first.
func (t *Tracker) Groups(f Filter) []Group {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Group
	for _, g := range t.groups {
		if f.match(g) {
			out = append(out, g.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Group returns one group.
func (t *Tracker) Group(id string) (Group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[id]
	if !ok {
		return Group{}, false
	}
	return g.snapshot(), true
}

// Instances returns up to limit of a group's most recent occurrences,
// newest first.
func (t *Tracker) Instances(groupID string, limit int) []Instance {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[groupID]
	if !ok {
		return nil
	}
	out := slices.Clone(g.instances)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Summary is an overview of tracked errors.
type Summary struct {
	Groups      int              `json:"groups"`
	OpenGroups  int              `json:"open_groups"`
	Occurrences int64            `json:"occurrences"`
	BySeverity  map[Severity]int `json:"by_severity"`
	ByCategory  map[Category]int `json:"by_category"`
	ByStatus    map[Status]int   `json:"by_status"`
	Top         []Group          `json:"top"`
}

// Summary returns counts across every group plus the five most frequent.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Summary{
		BySeverity: make(map[Severity]int),
		ByCategory: make(map[Category]int),
		ByStatus:   make(map[Status]int),
	}
	all := make([]Group, 0, len(t.groups))
	for _, g := range t.groups {
		s.Groups++
		if g.Status.Open() {
			s.OpenGroups++
		}
		s.Occurrences += g.Count
		s.BySeverity[g.Severity]++
		s.ByCategory[g.Category]++
		s.ByStatus[g.Status]++
		all = append(all, g.snapshot())
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > 5 {
		all = all[:5]
	}
	s.Top = all
	return s
}

// Trend compares a group's occurrences in the latest window with the
// window before it.
type Trend struct {
	Group    Group   `json:"group"`
	Recent   int     `json:"recent"`
	Previous int     `json:"previous"`
	Growth   float64 `json:"growth"`
}

// Trending returns the groups that occurred more often in the last window
// than in the one before, fastest growing first.
func (t *Tracker) Trending(window time.Duration) []Trend {
	now := t.now().UTC()
	cut := now.Add(-window)
	end := now.Add(time.Nanosecond)

	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Trend
	for _, g := range t.groups {
		recent := g.countSince(cut, end)
		previous := g.countSince(cut.Add(-window), cut)
		if recent <= previous {
			continue
		}
		out = append(out, Trend{
			Group:    g.snapshot(),
			Recent:   recent,
			Previous: previous,
			Growth:   float64(recent-previous) / float64(max(previous, 1)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Growth != out[j].Growth {
			return out[i].Growth > out[j].Growth
		}
		return out[i].Group.ID < out[j].Group.ID
	})
	return out
}

// Flush writes changed groups and new instances to the store. On failure
// they are kept for the next flush.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.mu.Lock()
	var dirty []Group
	for _, g := range t.groups {
		if g.dirty {
			dirty = append(dirty, g.snapshot())
			g.dirty = false
		}
	}
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	var errs []error
	if len(dirty) > 0 {
		if err := t.store.SaveErrorGroups(ctx, dirty); err != nil {
			errs = append(errs, err)
			t.markDirty(dirty)
		}
	}
	if len(pending) > 0 {
		if err := t.store.SaveErrorInstances(ctx, pending); err != nil {
			errs = append(errs, err)
			t.mu.Lock()
			t.pending = append(pending, t.pending...)
			t.mu.Unlock()
		}
	}
	return errors.Join(errs...)
}

func (t *Tracker) markDirty(groups []Group) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range groups {
		if g, ok := t.groups[s.ID]; ok {
			g.dirty = true
		}
	}
}

// Cleanup forgets closed groups not seen within the retention period and
// prunes old occurrence timestamps. Groups with unflushed changes are
// kept until a flush succeeds. It returns the number of groups
// removed.
func (t *Tracker) Cleanup() int {
	now := t.now().UTC()
	horizon := max(DefaultHitHorizon, 2*t.spikeWindow)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, g := range t.groups {
		if !g.Status.Open() && (t.store == nil || !g.dirty) && now.Sub(g.LastSeen) > t.retention {
			delete(t.groups, id)
			removed++
			continue
		}
		g.hits = pruneBefore(g.hits, now.Add(-horizon))
	}
	return removed
}

// Start flushes and cleans up every interval until Stop or ctx is done.
func (t *Tracker) Start(ctx context.Context, interval time.Duration) {
	t.loopMu.Lock()
	defer t.loopMu.Unlock()
	if t.cancel != nil || interval <= 0 {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.loop(ctx, interval, t.done)
}

// Stop halts the loop and runs a final flush.
func (t *Tracker) Stop() {
	t.loopMu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Tracker) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := t.Flush(fctx); err != nil {
				t.logger.Error("errortrack: final flush failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				t.logger.Error("errortrack: flush failed", "error", err)
			}
			if n := t.Cleanup(); n > 0 {
				t.logger.Info("errortrack: removed stale groups", "count", n)
			}
		}
	}
}

func addTo(set map[string]struct{}, v string) {
	if v != "" {
		set[v] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(set))
}

func pruneBefore(hits []time.Time, cut time.Time) []time.Time {
	i := sort.Search(len(hits), func(i int) bool { return !hits[i].Before(cut) })
	if i == 0 {
		return hits
	}
	return slices.Clone(hits[i:])
}
