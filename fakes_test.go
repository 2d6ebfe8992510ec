package job_runner

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/TimeWtr/job_runner/domain"
	"github.com/cockroachdb/errors"
)

var errStoreDown = errors.New("store down")

// memStore 内存实现的存储，满足重新调度、完成回调和广播的接口
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	jobs    map[int64]domain.Job
	runs    []domain.Run
	workers map[int64]domain.Worker
	pools   map[int64][]int64
	kills   []domain.KillRequest

	// unreadable 这些Job的Run返回时不带Job，模拟无法转换的配置
	unreadable map[int64]bool

	// 注入的错误
	listErr    error
	workersErr error
	forkErr    error
	markErr    error
}

func newMemStore() *memStore {
	return &memStore{
		nextID:  1000,
		jobs:    map[int64]domain.Job{},
		workers: map[int64]domain.Worker{},
		pools:   map[int64][]int64{},
	}
}

func (s *memStore) addJob(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *memStore) addWorker(poolID int64, w domain.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = w
	s.pools[poolID] = append(s.pools[poolID], w.ID)
}

func (s *memStore) addRun(run domain.Run) domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == 0 {
		s.nextID++
		run.ID = s.nextID
	}
	s.runs = append(s.runs, run)
	return run
}

func (s *memStore) addKill(kr domain.KillRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kills = append(s.kills, kr)
}

func (s *memStore) runsOf(jobID int64) []domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.Run
	for _, r := range s.runs {
		if r.JobID == jobID {
			res = append(res, r)
		}
	}
	return res
}

func (s *memStore) run(id int64) (domain.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Run{}, false
}

func (s *memStore) GetJob(_ context.Context, id int64) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return job, nil
}

func (s *memStore) ListChildJobs(_ context.Context, parentID int64) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.Job
	for _, job := range s.jobs {
		if job.ParentID != nil && *job.ParentID == parentID {
			res = append(res, job)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *memStore) GetRun(_ context.Context, id int64) (domain.Run, error) {
	run, ok := s.run(id)
	if !ok {
		return domain.Run{}, domain.ErrNotFound
	}
	return run, nil
}

func (s *memStore) CreateRun(_ context.Context, run *domain.Run) error {
	created := s.addRun(*run)
	run.ID = created.ID
	return nil
}

func (s *memStore) HasScheduledRun(_ context.Context, jobID int64) (bool, error) {
	for _, r := range s.runsOf(jobID) {
		if r.EnqueueDts == nil {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) LatestRun(_ context.Context, jobID int64) (domain.Run, error) {
	var (
		latest domain.Run
		found  bool
	)
	for _, r := range s.runsOf(jobID) {
		if !found || r.ScheduleDts.After(latest.ScheduleDts) ||
			(r.ScheduleDts.Equal(latest.ScheduleDts) && r.ID > latest.ID) {
			latest, found = r, true
		}
	}
	if !found {
		return domain.Run{}, domain.ErrNotFound
	}
	return latest, nil
}

func (s *memStore) LatestCompletedRun(_ context.Context, jobID int64) (domain.Run, error) {
	var (
		latest domain.Run
		found  bool
	)
	for _, r := range s.runsOf(jobID) {
		if r.ReturnDts == nil {
			continue
		}
		if !found || r.ReturnDts.After(*latest.ReturnDts) {
			latest, found = r, true
		}
	}
	if !found {
		return domain.Run{}, domain.ErrNotFound
	}
	return latest, nil
}

func (s *memStore) EnqueueableRuns(_ context.Context, now time.Time) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}

	var res []domain.Run
	for _, r := range s.runs {
		if r.EnqueueDts != nil || r.ScheduleDts.After(now) {
			continue
		}
		job, ok := s.jobs[r.JobID]
		if !ok || !(job.EnqueueIsEnabled || r.IsManual) {
			continue
		}
		if !s.unreadable[r.JobID] {
			r.Job = &job
		}
		if r.WorkerID != nil {
			if w, ok := s.workers[*r.WorkerID]; ok {
				r.Worker = &w
			}
		}
		res = append(res, r)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].ScheduleDts.Equal(res[j].ScheduleDts) {
			return res[i].ID < res[j].ID
		}
		return res[i].ScheduleDts.Before(res[j].ScheduleDts)
	})
	return res, nil
}

func (s *memStore) KillableRequests(_ context.Context) ([]domain.KillRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.KillRequest
	for _, kr := range s.kills {
		if kr.Killable() {
			res = append(res, kr)
		}
	}
	return res, nil
}

func (s *memStore) ListWorkers(_ context.Context) ([]domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workersErr != nil {
		return nil, s.workersErr
	}
	res := make([]domain.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		res = append(res, w)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *memStore) EnabledPoolWorkers(_ context.Context, poolID int64) ([]domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.Worker
	for _, id := range s.pools[poolID] {
		if w := s.workers[id]; w.EnqueueIsEnabled {
			res = append(res, w)
		}
	}
	return res, nil
}

func (s *memStore) ForkRun(_ context.Context, original domain.Run, workers []domain.Worker) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forkErr != nil {
		return nil, s.forkErr
	}

	idx := -1
	for i, r := range s.runs {
		if r.ID == original.ID && r.EnqueueDts == nil {
			idx = i
		}
	}
	if idx < 0 {
		return nil, domain.ErrNotFound
	}
	s.runs = append(s.runs[:idx], s.runs[idx+1:]...)

	res := make([]domain.Run, 0, len(workers))
	for i := range workers {
		s.nextID++
		wid := workers[i].ID
		clone := domain.Run{
			ID:          s.nextID,
			JobID:       original.JobID,
			WorkerID:    &wid,
			ScheduleID:  original.GetScheduleID(),
			ScheduleDts: original.ScheduleDts,
			IsManual:    original.IsManual,

			ScheduleChildren: original.ScheduleChildren,
		}
		s.runs = append(s.runs, clone)
		clone.Job = original.Job
		clone.Worker = &workers[i]
		res = append(res, clone)
	}
	return res, nil
}

func (s *memStore) MarkRunEnqueued(_ context.Context, runID, workerID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for i := range s.runs {
		if s.runs[i].ID == runID && s.runs[i].EnqueueDts == nil {
			wid, ts := workerID, at
			s.runs[i].WorkerID = &wid
			s.runs[i].EnqueueDts = &ts
			return nil
		}
	}
	return domain.ErrNotFound
}

type published struct {
	RoutingKey string
	Payload    map[string]any
}

// recordingPublisher 记录所有发布的消息，fail返回true时模拟发送失败
type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
	fail     func(routingKey string) bool
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil && p.fail(routingKey) {
		return errors.New("connection reset")
	}
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	p.messages = append(p.messages, published{RoutingKey: routingKey, Payload: body})
	return nil
}

func (p *recordingPublisher) byAction(action string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []published
	for _, m := range p.messages {
		if m.Payload["action"] == action {
			res = append(res, m)
		}
	}
	return res
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return nil
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.notifications...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ptr[T any](v T) *T {
	return &v
}
