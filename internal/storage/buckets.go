package storage

import (
	"sort"
	"time"

	"github.com/fidde/cicd_health/pkg/models"
)

// GroupRow is one fully-grouped row: the keys of every level followed by
// the keys of every breakdown, with the aggregates of the events sharing
// those keys. Backends produce rows; AssembleBuckets turns them into the
// nested bucket tree so every backend orders and truncates identically.
type GroupRow struct {
	Keys      []string
	Count     int64
	DeploySum float64
	Latest    time.Time
}

type node struct {
	key        string
	count      int64
	deploySum  float64
	latest     time.Time
	children   map[string]*node
	breakdowns []map[string]int64
}

func newNode(key string, breakdowns int) *node {
	n := &node{key: key, children: make(map[string]*node), breakdowns: make([]map[string]int64, breakdowns)}
	for i := range n.breakdowns {
		n.breakdowns[i] = make(map[string]int64)
	}
	return n
}

func (n *node) add(row GroupRow, levels int) {
	n.count += row.Count
	n.deploySum += row.DeploySum
	if row.Latest.After(n.latest) {
		n.latest = row.Latest
	}
	for i := range n.breakdowns {
		if k := row.Keys[levels+i]; k != "" {
			n.breakdowns[i][k] += row.Count
		}
	}
}

// AssembleBuckets builds the bucket tree for q from grouped rows. Parent
// counts include events whose deeper keys are empty; empty keys never form
// buckets. Buckets are ordered by count descending, then key ascending, and
// truncated to each level's size.
func AssembleBuckets(q GroupQuery, rows []GroupRow) []models.Bucket {
	levels := len(q.Levels)
	root := newNode("", 0)

	for _, row := range rows {
		if len(row.Keys) != levels+len(q.Breakdowns) || row.Count == 0 {
			continue
		}
		parent := root
		for depth := 0; depth < levels; depth++ {
			key := row.Keys[depth]
			if key == "" {
				break
			}
			child, ok := parent.children[key]
			if !ok {
				child = newNode(key, len(q.Breakdowns))
				parent.children[key] = child
			}
			child.add(row, levels)
			parent = child
		}
	}

	return buildLevel(root, q, 0)
}

func buildLevel(parent *node, q GroupQuery, depth int) []models.Bucket {
	if depth >= len(q.Levels) || len(parent.children) == 0 {
		return nil
	}

	nodes := make([]*node, 0, len(parent.children))
	for _, n := range parent.children {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].count != nodes[j].count {
			return nodes[i].count > nodes[j].count
		}
		return nodes[i].key < nodes[j].key
	})
	if size := q.Levels[depth].Size; size > 0 && len(nodes) > size {
		nodes = nodes[:size]
	}

	buckets := make([]models.Bucket, 0, len(nodes))
	for _, n := range nodes {
		b := models.Bucket{
			Key:      n.key,
			Count:    n.count,
			Children: buildLevel(n, q, depth+1),
		}
		if len(q.Breakdowns) > 0 {
			b.Breakdowns = make(map[models.Field][]models.Bucket, len(q.Breakdowns))
			for i, bd := range q.Breakdowns {
				b.Breakdowns[bd.Field] = SortCounts(n.breakdowns[i], bd.Size)
			}
		}
		if q.WithStats {
			b.Stats = nodeStats(n)
		}
		buckets = append(buckets, b)
	}
	return buckets
}

func nodeStats(n *node) *models.BucketStats {
	stats := &models.BucketStats{}
	if !n.latest.IsZero() {
		latest := n.latest.UTC()
		stats.LatestTimestamp = &latest
	}
	if n.count > 0 {
		avg := n.deploySum / float64(n.count)
		stats.DeploymentSuccessAvg = &avg
	}
	return stats
}

// SortCounts turns a key→count map into buckets ordered by count
// descending, then key ascending, truncated to size when size > 0.
func SortCounts(counts map[string]int64, size int) []models.Bucket {
	out := make([]models.Bucket, 0, len(counts))
	for k, c := range counts {
		if k == "" || c == 0 {
			continue
		}
		out = append(out, models.Bucket{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if size > 0 && len(out) > size {
		out = out[:size]
	}
	return out
}

// HistogramKey returns the bucket start for t at the given interval.
// Buckets align to the Unix epoch, so daily buckets start at UTC midnight.
func HistogramKey(t time.Time, interval time.Duration) time.Time {
	ms := interval.Milliseconds()
	if ms <= 0 {
		ms = DefaultInterval.Milliseconds()
	}
	start := t.UnixMilli()
	start -= mod(start, ms)
	return time.UnixMilli(start).UTC()
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// FillHistogram orders buckets by start and inserts empty buckets for every
// missing interval between the first and the last. With q.Last set, the
// range starts at most Last-1 intervals before the newest bucket and older
// buckets are dropped.
func FillHistogram(buckets []models.HistogramBucket, q HistogramQuery) []models.HistogramBucket {
	if len(buckets) == 0 {
		return []models.HistogramBucket{}
	}
	byStart := make(map[int64]models.HistogramBucket, len(buckets))
	for _, b := range buckets {
		key := b.Start.UnixMilli()
		existing := byStart[key]
		existing.Start = b.Start.UTC()
		existing.Count += b.Count
		existing.SuccessCount += b.SuccessCount
		byStart[key] = existing
	}

	starts := make([]int64, 0, len(byStart))
	for k := range byStart {
		starts = append(starts, k)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	step := q.EffectiveInterval().Milliseconds()
	first, last := starts[0], starts[len(starts)-1]
	if q.Last > 0 {
		first = max(first, last-int64(q.Last-1)*step)
	}
	out := make([]models.HistogramBucket, 0, len(starts))
	for ms := first; ms <= last; ms += step {
		b, ok := byStart[ms]
		if !ok {
			b = models.HistogramBucket{Start: time.UnixMilli(ms).UTC()}
		}
		out = append(out, b)
	}
	return out
}

// SortEvents orders events newest first, ties broken by ID.
func SortEvents(events []models.AnalysisEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		ti, tj := events[i].AnalysisTimestamp, events[j].AnalysisTimestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return events[i].ID < events[j].ID
	})
}
