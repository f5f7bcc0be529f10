package annotation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ReconcileResult describes one reconciliation pass.
type ReconcileResult struct {
	Pruned     []Comment `json:"pruned,omitempty"`
	Stray      []string  `json:"stray,omitempty"`
	Renumbered []string  `json:"renumbered,omitempty"`
	Retagged   []string  `json:"retagged,omitempty"`
}

// Reconcile aligns the comment list with the spans present in the document.
// Records whose spans are all gone are pruned and the survivors renumbered;
// spans whose id has no record are stripped. A loaded list that is not
// numbered 1..N is renumbered, and spans whose number or color disagree
// with their record are retagged. Deletion is detected by absence, so every
// pass walks the whole document.
func (e *Engine) Reconcile(ctx context.Context) ReconcileResult {
	start := time.Now()
	defer func() {
		reconcileDuration.Observe(time.Since(start).Seconds())
	}()
	reconcilePasses.Inc()

	var res ReconcileResult
	live := e.doc.CollectLiveIDs()
	for id := range live {
		if _, ok := e.store.Get(id); !ok {
			e.doc.DetachAll(id)
			res.Stray = append(res.Stray, id)
		}
	}
	sort.Strings(res.Stray)

	deleted := make(map[string]struct{})
	for _, c := range e.store.Records() {
		if _, ok := live[c.ID]; !ok {
			res.Pruned = append(res.Pruned, c)
			deleted[c.ID] = struct{}{}
		}
	}
	if len(res.Pruned) > 0 || !e.store.Dense() {
		res.Renumbered = e.renumber(ctx, deleted)
	}
	res.Retagged = e.retagStale()
	if len(res.Pruned) == 0 {
		return res
	}

	commentsPruned.Add(float64(len(res.Pruned)))

	ids := make([]string, 0, len(res.Pruned))
	for _, c := range res.Pruned {
		ids = append(ids, c.ID)
	}
	e.notify(EventCommentPruned, prunedMessage(res.Pruned), ids...)

	if _, ok := deleted[e.selected]; ok {
		e.selected = ""
	}
	return res
}

// retagStale rewrites spans whose attributes drifted from their record,
// as happens when older content is put back.
func (e *Engine) retagStale() []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, span := range e.doc.Spans() {
		if _, ok := seen[span.CommentID]; ok {
			continue
		}
		c, ok := e.store.Get(span.CommentID)
		if !ok || (span.Number == c.Number && span.Color == c.Color) {
			continue
		}
		seen[span.CommentID] = struct{}{}
		e.doc.Retag(c.ID, c.Number, c.Color)
		ids = append(ids, c.ID)
	}
	return ids
}

func prunedMessage(pruned []Comment) string {
	if len(pruned) == 1 {
		return fmt.Sprintf("Comment #%d removed: its annotated text was deleted", pruned[0].Number)
	}
	labels := make([]string, 0, len(pruned))
	for _, c := range pruned {
		labels = append(labels, fmt.Sprintf("#%d", c.Number))
	}
	return fmt.Sprintf("Comments %s removed: their annotated text was deleted", strings.Join(labels, ", "))
}
