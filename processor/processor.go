package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/autoflow/content"
	"github.com/kbukum/autoflow/logger"
	"github.com/kbukum/autoflow/observability"
)

const (
	DefaultStagger     = 200 * time.Millisecond
	DefaultConcurrency = 3
	DefaultDelay       = time.Second
	DefaultWindowDays  = 2
)

// WorkItem is one queued item with the date and group it is filed under.
// Index is the item's position in its group when it was collected.
type WorkItem struct {
	Item  content.Item
	Date  string
	Group string
	Index int
}

// ProcessFunc turns a prompt into a reply, usually by running an agent or a
// workflow. date is the item's date key.
type ProcessFunc func(ctx context.Context, prompt, date string) (string, error)

// ProgressFunc receives progress percentages. Values never decrease and the
// last call is 100 unless ctx is cancelled before the queue drains.
type ProgressFunc func(ctx context.Context, pct int)

// Options configures one Process call.
type Options struct {
	Dates        []string
	TargetFields []string
	// Concurrency caps in-flight process calls (0 = DefaultConcurrency).
	Concurrency int
	// Delay is slept after each successful item. 0 disables it.
	Delay time.Duration
	// Prompt is prepended to every item prompt.
	Prompt string
}

// Summary reports what one Process call did.
type Summary struct {
	Queued      int
	Updated     int
	Unparsed    int
	Failed      int
	Groups      int
	FlushErrors int
}

// Processor runs item backlogs against a content.Store.
type Processor struct {
	items   content.Store
	log     *logger.Logger
	Metrics *observability.Metrics
	// Stagger delays worker i by i*Stagger before its first claim.
	Stagger time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Processor over items. A nil logger discards output.
func New(items content.Store, log *logger.Logger) *Processor {
	return &Processor{
		items:   items,
		log:     logger.OrNop(log).WithComponent("processor"),
		Stagger: DefaultStagger,
		sleep:   sleepCtx,
	}
}

// Collect queues every item under dates missing at least one target field.
// Dates are scanned in the given order and groups in name order.
func (p *Processor) Collect(ctx context.Context, dates, targetFields []string) ([]WorkItem, error) {
	var queue []WorkItem
	for _, date := range dates {
		groups, err := p.items.Groups(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("load items for %s: %w", date, err)
		}
		names := make([]string, 0, len(groups))
		for g := range groups {
			names = append(names, g)
		}
		sort.Strings(names)
		for _, g := range names {
			for i, it := range groups[g] {
				if it.Missing(targetFields) {
					queue = append(queue, WorkItem{Item: it, Date: date, Group: g, Index: i})
				}
			}
		}
	}
	return queue, nil
}

// Process collects the backlog, works through it and flushes updated items.
// Item failures are counted in the Summary; the returned error is reserved
// for collection failures and context cancellation.
func (p *Processor) Process(ctx context.Context, fn ProcessFunc, opts Options, progress ProgressFunc) (Summary, error) {
	queue, err := p.Collect(ctx, opts.Dates, opts.TargetFields)
	if err != nil {
		return Summary{}, err
	}
	rep := &reporter{fn: progress, total: len(queue)}
	if len(queue) == 0 {
		rep.finish(ctx)
		return Summary{}, nil
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	if workers > len(queue) {
		workers = len(queue)
	}

	pool := &pool{
		p:       p,
		fn:      fn,
		opts:    opts,
		queue:   queue,
		rep:     rep,
		updated: make(map[groupKey]map[int]content.Item),
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			pool.work(ctx, worker)
		}(i)
	}
	wg.Wait()

	sum := pool.summary()
	sum.Queued = len(queue)
	sum.Groups, sum.FlushErrors = p.flush(ctx, pool.updated)
	if ctx.Err() == nil {
		rep.finish(ctx)
	}

	p.log.Info("item backlog processed", logger.Fields(
		"queued", sum.Queued,
		"updated", sum.Updated,
		"unparsed", sum.Unparsed,
		"failed", sum.Failed,
		"flush_errors", sum.FlushErrors,
	))
	return sum, ctx.Err()
}

type groupKey struct {
	date, group string
}

type pool struct {
	p     *Processor
	fn    ProcessFunc
	opts  Options
	queue []WorkItem
	rep   *reporter

	cursor atomic.Int64

	mu       sync.Mutex
	updated  map[groupKey]map[int]content.Item
	nUpdated int
	unparsed int
	failed   int
}

func (w *pool) work(ctx context.Context, worker int) {
	if err := w.p.sleep(ctx, time.Duration(worker)*w.p.Stagger); err != nil {
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}
		idx := int(w.cursor.Add(1) - 1)
		if idx >= len(w.queue) {
			return
		}
		ok := w.handle(ctx, worker, w.queue[idx])
		w.rep.step(ctx)

		if ok && w.opts.Delay > 0 && int(w.cursor.Load()) < len(w.queue) {
			if err := w.p.sleep(ctx, w.opts.Delay); err != nil {
				return
			}
		}
	}
}

// handle processes one item and reports whether the process call succeeded.
func (w *pool) handle(ctx context.Context, worker int, wi WorkItem) (ok bool) {
	log := w.p.log.WithFields(logger.Fields(logger.FieldItemID, wi.Item.ID, logger.FieldWorker, worker))
	defer func() {
		if r := recover(); r != nil {
			log.Error("item processing panicked", logger.Fields(logger.FieldError, fmt.Sprint(r)))
			w.record(ctx, "failed", wi, nil)
			ok = false
		}
	}()

	reply, err := w.fn(ctx, BuildPrompt(w.opts.Prompt, wi.Item), wi.Date)
	if err != nil {
		log.Warn("item processing failed", logger.Fields(logger.FieldError, err.Error()))
		w.record(ctx, "failed", wi, nil)
		return false
	}
	obj, parsed := parseReply(reply)
	if !parsed {
		log.Warn("reply has no JSON object", logger.Fields("reply_len", len(reply)))
		w.record(ctx, "unparsed", wi, nil)
		return true
	}
	item := wi.Item.Clone()
	if !applyReply(item.Metadata, obj, w.opts.TargetFields) {
		w.record(ctx, "unparsed", wi, nil)
		return true
	}
	w.record(ctx, "updated", wi, &item)
	return true
}

func (w *pool) record(ctx context.Context, outcome string, wi WorkItem, item *content.Item) {
	w.p.Metrics.RecordItem(ctx, outcome)
	w.mu.Lock()
	defer w.mu.Unlock()
	switch outcome {
	case "failed":
		w.failed++
	case "unparsed":
		w.unparsed++
	case "updated":
		w.nUpdated++
		key := groupKey{wi.Date, wi.Group}
		if w.updated[key] == nil {
			w.updated[key] = make(map[int]content.Item)
		}
		w.updated[key][wi.Index] = *item
	}
}

func (w *pool) summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Summary{Updated: w.nUpdated, Unparsed: w.unparsed, Failed: w.failed}
}

// flush writes each changed group once. The group is re-read so items added
// while the pool ran are kept.
func (p *Processor) flush(ctx context.Context, updated map[groupKey]map[int]content.Item) (groups, failures int) {
	keys := make([]groupKey, 0, len(updated))
	for k := range updated {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date > keys[j].date
		}
		return keys[i].group < keys[j].group
	})

	// Finished work is persisted even when ctx is cancelled.
	wctx := context.WithoutCancel(ctx)
	for _, k := range keys {
		if err := p.flushGroup(wctx, k, updated[k]); err != nil {
			failures++
			p.log.Error("flush failed", logger.Fields("date", k.date, "group", k.group, logger.FieldError, err.Error()))
			continue
		}
		groups++
	}
	return groups, failures
}

// flushGroup writes changed, keyed by collected position, into the stored
// group. An update lands at its collected position when the item there still
// has the same ID; otherwise it moves to the first unclaimed item with that
// ID. Updates that match nothing are dropped, so items never overwrite each
// other.
func (p *Processor) flushGroup(ctx context.Context, k groupKey, changed map[int]content.Item) error {
	current, err := p.items.Groups(ctx, k.date)
	if err != nil {
		return err
	}
	items := current[k.group]

	positions := make([]int, 0, len(changed))
	for idx := range changed {
		positions = append(positions, idx)
	}
	sort.Ints(positions)

	claimed := make(map[int]bool, len(changed))
	dropped := 0
	for _, idx := range positions {
		upd := changed[idx]
		pos := -1
		if idx < len(items) && items[idx].ID == upd.ID {
			pos = idx
		} else if upd.ID != "" {
			for i := range items {
				if !claimed[i] && items[i].ID == upd.ID {
					pos = i
					break
				}
			}
		}
		if pos < 0 || claimed[pos] {
			dropped++
			continue
		}
		items[pos] = upd
		claimed[pos] = true
	}
	if dropped > 0 {
		p.log.Warn("updated items no longer in group", logger.Fields("date", k.date, "group", k.group, "dropped", dropped))
	}
	return p.items.SaveGroup(ctx, k.date, k.group, items)
}

// BuildPrompt formats an item for the process function.
func BuildPrompt(prefix string, it content.Item) string {
	var b strings.Builder
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Title: %s\nContent: %s\nLink: %s", it.Title, it.Body, it.Link)
	return b.String()
}

// reporter serializes progress reports and keeps them non-decreasing.
type reporter struct {
	fn    ProgressFunc
	total int

	mu   sync.Mutex
	done int
	last int
	sent bool
}

func (r *reporter) step(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	r.emit(ctx, int(math.Round(float64(r.done)/float64(r.total)*100)))
}

func (r *reporter) finish(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sent || r.last < 100 {
		r.emit(ctx, 100)
	}
}

func (r *reporter) emit(ctx context.Context, pct int) {
	if r.sent && pct <= r.last {
		return
	}
	r.last = pct
	r.sent = true
	if r.fn != nil {
		r.fn(ctx, pct)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
