package repository

import (
	"time"

	"github.com/TimeWtr/job_runner/const"
	"github.com/TimeWtr/job_runner/domain"
	"github.com/TimeWtr/job_runner/repository/dao"
	"github.com/cockroachdb/errors"
)

func toDomainProject(p *dao.Project) *domain.Project {
	if p == nil {
		return nil
	}
	return &domain.Project{
		ID:                    p.ID,
		Title:                 p.Title,
		NotificationAddresses: domain.SplitAddresses(p.NotificationAddresses),
	}
}

func toDomainWorker(w *dao.Worker) *domain.Worker {
	if w == nil {
		return nil
	}
	return &domain.Worker{
		ID:                    w.ID,
		Title:                 w.Title,
		APIKey:                w.APIKey,
		EnqueueIsEnabled:      w.EnqueueIsEnabled,
		ProjectID:             w.ProjectID,
		Project:               toDomainProject(w.Project),
		NotificationAddresses: domain.SplitAddresses(w.NotificationAddresses),
	}
}

func toDomainWorkers(workers []dao.Worker) []domain.Worker {
	res := make([]domain.Worker, 0, len(workers))
	for i := range workers {
		res = append(res, *toDomainWorker(&workers[i]))
	}
	return res
}

func toDomainTemplate(t *dao.JobTemplate) *domain.JobTemplate {
	if t == nil {
		return nil
	}
	return &domain.JobTemplate{
		ID:                    t.ID,
		Title:                 t.Title,
		WorkerID:              t.WorkerID,
		Worker:                toDomainWorker(t.Worker),
		NotificationAddresses: domain.SplitAddresses(t.NotificationAddresses),
	}
}

func toDomainExclude(e dao.RescheduleExclude) (domain.RescheduleExclude, error) {
	start, err := domain.ParseTimeOfDay(e.StartTime)
	if err != nil {
		return domain.RescheduleExclude{}, errors.Wrapf(err, "exclude %d start_time", e.ID)
	}
	end, err := domain.ParseTimeOfDay(e.EndTime)
	if err != nil {
		return domain.RescheduleExclude{}, errors.Wrapf(err, "exclude %d end_time", e.ID)
	}
	return domain.RescheduleExclude{
		ID:        e.ID,
		JobID:     e.JobID,
		Note:      e.Note,
		StartTime: start,
		EndTime:   end,
	}, nil
}

func toDomainJob(j *dao.Job) (*domain.Job, error) {
	if j == nil {
		return nil, nil
	}
	rescheduleType, err := _const.ParseRescheduleType(j.RescheduleType)
	if err != nil {
		return nil, errors.Wrapf(err, "job %d", j.ID)
	}
	// 不重新调度的Job允许不配置间隔单位
	var intervalType _const.IntervalType
	if j.RescheduleIntervalType != "" {
		intervalType, err = _const.ParseIntervalType(j.RescheduleIntervalType)
		if err != nil {
			return nil, errors.Wrapf(err, "job %d", j.ID)
		}
	}

	excludes := make([]domain.RescheduleExclude, 0, len(j.Excludes))
	for _, e := range j.Excludes {
		exclude, err := toDomainExclude(e)
		if err != nil {
			return nil, err
		}
		excludes = append(excludes, exclude)
	}

	return &domain.Job{
		ID:                     j.ID,
		Title:                  j.Title,
		ScriptContent:          j.ScriptContent,
		TemplateID:             j.JobTemplateID,
		Template:               toDomainTemplate(j.JobTemplate),
		WorkerPoolID:           j.WorkerPoolID,
		EnqueueIsEnabled:       j.EnqueueIsEnabled,
		RunOnAllWorkers:        j.RunOnAllWorkers,
		RescheduleType:         rescheduleType,
		RescheduleIntervalType: intervalType,
		RescheduleInterval:     j.RescheduleInterval,
		ParentID:               j.ParentID,
		Excludes:               excludes,
		NotificationAddresses:  domain.SplitAddresses(j.NotificationAddresses),
	}, nil
}

func toDomainRun(r *dao.Run) (*domain.Run, error) {
	if r == nil {
		return nil, nil
	}
	job, err := toDomainJob(r.Job)
	if err != nil {
		return nil, err
	}
	return &domain.Run{
		ID:            r.ID,
		JobID:         r.JobID,
		Job:           job,
		WorkerID:      r.WorkerID,
		Worker:        toDomainWorker(r.Worker),
		ScheduleID:    r.ScheduleID,
		ScheduleDts:   r.ScheduleDts,
		EnqueueDts:    r.EnqueueDts,
		StartDts:      r.StartDts,
		ReturnDts:     r.ReturnDts,
		ReturnSuccess: r.ReturnSuccess,
		IsManual:      r.IsManual,

		ScheduleChildren: r.ScheduleChildren,
	}, nil
}

func toDaoRun(r domain.Run) dao.Run {
	return dao.Run{
		ID:            r.ID,
		JobID:         r.JobID,
		WorkerID:      r.WorkerID,
		ScheduleID:    r.ScheduleID,
		ScheduleDts:   r.ScheduleDts.UTC(),
		EnqueueDts:    utcPtr(r.EnqueueDts),
		StartDts:      utcPtr(r.StartDts),
		ReturnDts:     utcPtr(r.ReturnDts),
		ReturnSuccess: r.ReturnSuccess,
		IsManual:      r.IsManual,

		ScheduleChildren: r.ScheduleChildren,
	}
}

func toDomainKillRequest(k *dao.KillRequest) (domain.KillRequest, error) {
	run, err := toDomainRun(k.Run)
	if err != nil {
		return domain.KillRequest{}, err
	}
	return domain.KillRequest{
		ID:          k.ID,
		RunID:       k.RunID,
		Run:         run,
		ScheduleDts: k.ScheduleDts,
		EnqueueDts:  k.EnqueueDts,
		ExecuteDts:  k.ExecuteDts,
	}, nil
}

// utcPtr 统一以UTC存储，保证不同驱动下时间比较的一致性
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
