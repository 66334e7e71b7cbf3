package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
)

// In-memory fakes mirroring the PostgreSQL and Redis adapter semantics,
// including mutation counters so tests can assert "zero writes".

type rowKey struct {
	snap, post int64
}

type fakeContent struct {
	rows   map[rowKey]*entity.ContentRow
	writes int
}

func newFakeContent() *fakeContent {
	return &fakeContent{rows: map[rowKey]*entity.ContentRow{}}
}

func (f *fakeContent) SeedRow(_ context.Context, snapshotID, postID int64, action entity.Action) error {
	k := rowKey{snapshotID, postID}
	if _, ok := f.rows[k]; ok {
		return nil
	}
	f.writes++
	f.rows[k] = &entity.ContentRow{
		SnapshotID:         snapshotID,
		PostID:             postID,
		Action:             action,
		KeywordsNeedUpdate: true,
		PositionNeedUpdate: true,
		Updated:            time.Now(),
	}
	return nil
}

func (f *fakeContent) Row(_ context.Context, snapshotID, postID int64) (*entity.ContentRow, error) {
	r, ok := f.rows[rowKey{snapshotID, postID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeContent) Rows(_ context.Context, snapshotID int64) ([]*entity.ContentRow, error) {
	var out []*entity.ContentRow
	for _, r := range f.sorted(snapshotID) {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeContent) sorted(snapshotID int64) []*entity.ContentRow {
	var rows []*entity.ContentRow
	for k, r := range f.rows {
		if k.snap == snapshotID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PostID < rows[j].PostID })
	return rows
}

func (f *fakeContent) pending(snapshotID int64, limit int, match func(*entity.ContentRow) bool) []int64 {
	var ids []int64
	for _, r := range f.sorted(snapshotID) {
		if len(ids) == limit {
			break
		}
		if match(r) {
			ids = append(ids, r.PostID)
		}
	}
	return ids
}

func (f *fakeContent) PendingScope(_ context.Context, snapshotID int64, limit int) ([]int64, error) {
	return f.pending(snapshotID, limit, func(r *entity.ContentRow) bool {
		return r.Action == entity.ActionAnalyzingInitial
	}), nil
}

func (f *fakeContent) PendingBacklinks(_ context.Context, snapshotID int64, limit int) ([]int64, error) {
	return f.pending(snapshotID, limit, func(r *entity.ContentRow) bool {
		return r.Action == entity.ActionAnalyzing && r.Backlinks == nil
	}), nil
}

func (f *fakeContent) PendingTraffic(_ context.Context, snapshotID int64, limit int) ([]int64, error) {
	return f.pending(snapshotID, limit, func(r *entity.ContentRow) bool {
		return r.Action == entity.ActionAnalyzing && r.TotalMonth == nil
	}), nil
}

func (f *fakeContent) PendingPosition(_ context.Context, snapshotID int64, limit int) ([]int64, error) {
	return f.pending(snapshotID, limit, func(r *entity.ContentRow) bool {
		return r.Action == entity.ActionAnalyzing && r.PositionNeedUpdate
	}), nil
}

func (f *fakeContent) PendingFinal(_ context.Context, snapshotID int64, limit int) ([]int64, error) {
	return f.pending(snapshotID, limit, func(r *entity.ContentRow) bool {
		return r.Action == entity.ActionAnalyzing && r.MetricsComplete()
	}), nil
}

func (f *fakeContent) mutate(snapshotID, postID int64, fn func(*entity.ContentRow)) error {
	r, ok := f.rows[rowKey{snapshotID, postID}]
	if !ok {
		return nil
	}
	f.writes++
	fn(r)
	r.Updated = time.Now()
	return nil
}

func (f *fakeContent) SetBacklinks(_ context.Context, snapshotID, postID, count int64) error {
	return f.mutate(snapshotID, postID, func(r *entity.ContentRow) {
		r.Backlinks = &count
	})
}

func (f *fakeContent) SetBacklinksError(_ context.Context, snapshotID, postID int64, message string) error {
	return f.mutate(snapshotID, postID, func(r *entity.ContentRow) {
		sentinel := int64(entity.MetricErrorSentinel)
		r.Backlinks = &sentinel
		r.ItemError = message
	})
}

func (f *fakeContent) SetTraffic(_ context.Context, snapshotID, postID int64, totalRaw, organicRaw, totalMonth, organicMonth int64) error {
	return f.mutate(snapshotID, postID, func(r *entity.ContentRow) {
		r.TotalRaw = totalRaw
		r.OrganicRaw = organicRaw
		r.TotalMonth = &totalMonth
		r.OrganicMonth = &organicMonth
	})
}

func (f *fakeContent) SetTrafficError(_ context.Context, snapshotID, postID int64, message string) error {
	return f.mutate(snapshotID, postID, func(r *entity.ContentRow) {
		sentinel := int64(entity.MetricErrorSentinel)
		r.TotalMonth = &sentinel
		r.OrganicMonth = &sentinel
		r.ItemError = message
	})
}

func (f *fakeContent) SetPosition(_ context.Context, snapshotID, postID int64, position *float64, keyword string, kwGSC, kwIDF []byte) error {
	return f.mutate(snapshotID, postID, func(r *entity.ContentRow) {
		r.Position = position
		if r.KeywordManual == "" {
			r.Keyword = keyword
		}
		r.KwGSC = kwGSC
		r.KwIDF = kwIDF
		r.PositionNeedUpdate = false
		r.KeywordsNeedUpdate = false
	})
}

func (f *fakeContent) SetPositionError(_ context.Context, snapshotID, postID int64, message string) error {
	return f.mutate(snapshotID, postID, func(r *entity.ContentRow) {
		r.Position = nil
		r.PositionNeedUpdate = false
		r.KeywordsNeedUpdate = false
		r.ItemError = message
	})
}

func (f *fakeContent) SetKeywordManual(_ context.Context, snapshotID, postID int64, keyword string, approved bool) error {
	if _, ok := f.rows[rowKey{snapshotID, postID}]; !ok {
		return repository.ErrNotFound
	}
	return f.mutate(snapshotID, postID, func(r *entity.ContentRow) {
		r.KeywordManual = keyword
		r.IsApprovedKeyword = approved
	})
}

func (f *fakeContent) SetAction(_ context.Context, snapshotID, postID int64, action entity.Action) error {
	return f.mutate(snapshotID, postID, func(r *entity.ContentRow) {
		r.Action = action
	})
}

func (f *fakeContent) ActiveRowsWithKeyword(_ context.Context, snapshotID int64, keyword string) ([]*entity.ContentRow, error) {
	var out []*entity.ContentRow
	for _, r := range f.sorted(snapshotID) {
		switch r.Action {
		case entity.ActionExcluded, entity.ActionNoindex, entity.ActionOutOfScope, entity.ActionAddedSinceLast:
			continue
		}
		if r.Inactive || r.ActiveKeyword() != keyword {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeContent) CountPending(_ context.Context, snapshotID int64) (int64, error) {
	var n int64
	for k, r := range f.rows {
		if k.snap == snapshotID && r.Action.Pending() {
			n++
		}
	}
	return n, nil
}

func (f *fakeContent) CountByAction(_ context.Context, snapshotID int64) (map[entity.Action]int64, error) {
	counts := map[entity.Action]int64{}
	for k, r := range f.rows {
		if k.snap == snapshotID {
			counts[r.Action]++
		}
	}
	return counts, nil
}

func (f *fakeContent) ResetMetrics(_ context.Context, snapshotID int64) error {
	for k, r := range f.rows {
		if k.snap != snapshotID {
			continue
		}
		if r.Action == entity.ActionExcluded || r.Action == entity.ActionNewlyPublished {
			continue
		}
		f.writes++
		r.Backlinks = nil
		r.ItemError = ""
		r.TotalMonth = nil
		r.OrganicMonth = nil
		r.TotalRaw = 0
		r.OrganicRaw = 0
		r.Position = nil
		r.Keyword = ""
		r.KwGSC = nil
		r.KwIDF = nil
		r.KeywordsNeedUpdate = true
		r.PositionNeedUpdate = true
		r.Action = entity.ActionAnalyzingInitial
	}
	return nil
}

func (f *fakeContent) DeleteForPost(_ context.Context, postID int64) error {
	for k := range f.rows {
		if k.post == postID {
			f.writes++
			delete(f.rows, k)
		}
	}
	return nil
}

func (f *fakeContent) Touch(_ context.Context, snapshotID, postID int64, at time.Time) error {
	return f.mutate(snapshotID, postID, func(r *entity.ContentRow) { r.Updated = at })
}

type fakeSnapshots struct {
	snaps  []*entity.Snapshot
	nextID int64
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{nextID: 1}
}

func (f *fakeSnapshots) Create(context.Context) (*entity.Snapshot, error) {
	s := &entity.Snapshot{ID: f.nextID, Status: entity.SnapshotNew, CreatedAt: time.Now()}
	f.nextID++
	f.snaps = append(f.snaps, s)
	return s, nil
}

func (f *fakeSnapshots) byStatus(status entity.SnapshotStatus) (*entity.Snapshot, error) {
	for _, s := range f.snaps {
		if s.Status == status {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSnapshots) Current(context.Context) (*entity.Snapshot, error) {
	return f.byStatus(entity.SnapshotCurrent)
}

func (f *fakeSnapshots) New(context.Context) (*entity.Snapshot, error) {
	return f.byStatus(entity.SnapshotNew)
}

func (f *fakeSnapshots) Promote(context.Context) error {
	var incoming *entity.Snapshot
	for _, s := range f.snaps {
		if s.Status == entity.SnapshotNew {
			incoming = s
		}
	}
	if incoming == nil {
		return repository.ErrNotFound
	}
	for _, s := range f.snaps {
		if s.Status == entity.SnapshotCurrent {
			s.Status = entity.SnapshotOld
		}
	}
	incoming.Status = entity.SnapshotCurrent
	return nil
}

func (f *fakeSnapshots) Delete(_ context.Context, id int64) error {
	for i, s := range f.snaps {
		if s.ID == id {
			f.snaps = append(f.snaps[:i], f.snaps[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakePosts struct {
	posts  map[int64]*entity.Post
	nextID int64
}

func newFakePosts() *fakePosts {
	return &fakePosts{posts: map[int64]*entity.Post{}, nextID: 1}
}

func (f *fakePosts) add(post entity.Post) int64 {
	id := f.nextID
	f.nextID++
	post.ID = id
	f.posts[id] = &post
	return id
}

func (f *fakePosts) Upsert(_ context.Context, post *entity.Post) (int64, error) {
	for _, p := range f.posts {
		if p.Path == post.Path {
			post.ID = p.ID
			*p = *post
			return p.ID, nil
		}
	}
	return f.add(*post), nil
}

func (f *fakePosts) FindByID(_ context.Context, id int64) (*entity.Post, error) {
	p, ok := f.posts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePosts) FindByIDs(_ context.Context, ids []int64) (map[int64]*entity.Post, error) {
	out := map[int64]*entity.Post{}
	for _, id := range ids {
		if p, ok := f.posts[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakePosts) All(context.Context) ([]*entity.Post, error) {
	var out []*entity.Post
	for _, p := range f.posts {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakePosts) SetExcluded(_ context.Context, id int64, excluded bool) error {
	p, ok := f.posts[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Excluded = excluded
	return nil
}

func (f *fakePosts) Delete(_ context.Context, id int64) error {
	delete(f.posts, id)
	return nil
}

type fakeState struct {
	strings map[string]string
	bools   map[string]bool
	times   map[string]time.Time
	msgs    []entity.Message
	lock    string // held token, "" when free
	writes  int
}

func newFakeState() *fakeState {
	return &fakeState{
		strings: map[string]string{},
		bools:   map[string]bool{},
		times:   map[string]time.Time{},
	}
}

func (f *fakeState) GetString(_ context.Context, key string) (string, error) {
	return f.strings[key], nil
}

func (f *fakeState) SetString(_ context.Context, key, value string) error {
	f.writes++
	f.strings[key] = value
	return nil
}

func (f *fakeState) SetStringTTL(ctx context.Context, key, value string, _ time.Duration) error {
	return f.SetString(ctx, key, value)
}

func (f *fakeState) Delete(_ context.Context, key string) error {
	f.writes++
	delete(f.strings, key)
	delete(f.bools, key)
	return nil
}

func (f *fakeState) GetBool(_ context.Context, key string) (bool, error) {
	return f.bools[key], nil
}

func (f *fakeState) SetBool(_ context.Context, key string, value bool) error {
	f.writes++
	f.bools[key] = value
	return nil
}

func (f *fakeState) GetTime(_ context.Context, key string) (time.Time, error) {
	return f.times[key], nil
}

func (f *fakeState) SetTime(_ context.Context, key string, t time.Time) error {
	f.writes++
	f.times[key] = t
	return nil
}

func (f *fakeState) Messages(context.Context) ([]entity.Message, error) {
	return append([]entity.Message(nil), f.msgs...), nil
}

func (f *fakeState) SetMessages(_ context.Context, msgs []entity.Message) error {
	f.writes++
	f.msgs = append([]entity.Message(nil), msgs...)
	return nil
}

func (f *fakeState) ClearMessages(context.Context) error {
	f.writes++
	f.msgs = nil
	return nil
}

func (f *fakeState) AcquireLock(_ context.Context, _ string, _ time.Duration) (string, bool, error) {
	if f.lock != "" {
		return "", false, nil
	}
	f.lock = fmt.Sprintf("token-%d", f.writes)
	f.writes++
	return f.lock, true, nil
}

func (f *fakeState) ReleaseLock(_ context.Context, _ string, token string) error {
	if f.lock == token {
		f.lock = ""
	}
	return nil
}

// fakeWorker lets engine tests script per-batch outcomes.
type fakeWorker struct {
	name      string
	provider  entity.Provider
	batchSize int
	pending   func(ctx context.Context, snapshotID int64, limit int) ([]int64, error)
	process   func(ctx context.Context, snapshotID int64, postIDs []int64) (*entity.Message, error)

	batches [][]int64
}

func (w *fakeWorker) Name() string              { return w.name }
func (w *fakeWorker) Provider() entity.Provider { return w.provider }
func (w *fakeWorker) BatchSize() int            { return w.batchSize }

func (w *fakeWorker) Pending(ctx context.Context, snapshotID int64, limit int) ([]int64, error) {
	return w.pending(ctx, snapshotID, limit)
}

func (w *fakeWorker) ProcessBatch(ctx context.Context, snapshotID int64, postIDs []int64) (*entity.Message, error) {
	w.batches = append(w.batches, append([]int64(nil), postIDs...))
	return w.process(ctx, snapshotID, postIDs)
}
