package work

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Steven867533/hce-backend/server/logger"
	"github.com/Steven867533/hce-backend/server/models"
	"github.com/fatih/color"
	"gorm.io/gorm"
)

const (
	// MAX_FAILS is how many times a job may fail before it is marked dead.
	MAX_FAILS = 4

	reaperStuckAfterMinutes = 30
)

var (
	DefaultTickerDuration = 5 * time.Millisecond
	TickerDurationOnError = 10 * time.Millisecond

	ErrDuplicateHandler = errors.New("handler with provided name already mapped")

	logg   = logger.NewLogger()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

type JobParams struct {
	Name    string
	Handler string
	Unique  bool
	Args    map[string]interface{}
}

type Handler func(map[string]interface{}) error

type workerPool struct {
	handlers map[string]Handler
	workers  []*worker
	reaper   *stuckJobsReaper
	started  bool
}

func newWorkerPool(concurrency int) *workerPool {
	wp := workerPool{handlers: make(map[string]Handler)}

	for i := 0; i < concurrency; i++ {
		wp.workers = append(wp.workers, newWorker(&wp, []int64{0, 10, 100, 120}))
	}
	wp.reaper = newStuckJobsReaper()

	return &wp
}

// registerHandler binds a name to a job handler for the pool.
func (wp *workerPool) registerHandler(name string, handler Handler) error {
	if _, ok := wp.handlers[name]; ok {
		return ErrDuplicateHandler
	}

	wp.handlers[name] = handler
	return nil
}

// enqueue records a job to be picked up by the next free worker.
func (wp *workerPool) enqueue(job JobParams) error {
	if strings.TrimSpace(job.Name) == "" || strings.TrimSpace(job.Handler) == "" {
		return fmt.Errorf("both a name & handler is required for a job")
	}

	argsAsJSON, err := json.Marshal(job.Args)
	if err != nil {
		return err
	}

	return models.CreateJob(job.Name, job.Handler, string(argsAsJSON), job.Unique)
}

func (wp *workerPool) start() {
	if wp.started {
		return
	}
	wp.started = true

	for _, worker := range wp.workers {
		worker.start()
	}
	wp.reaper.start()
}

func (wp *workerPool) stop() {
	if !wp.started {
		return
	}

	wg := sync.WaitGroup{}
	for _, w := range wp.workers {
		wg.Add(1)
		go func(w *worker) {
			w.stop()
			wg.Done()
		}(w)
	}
	wg.Add(1)
	go func() {
		wp.reaper.stop()
		wg.Done()
	}()
	wg.Wait()

	wp.started = false
}

// ---------------------------------------------------------------------------------//
// worker
// --------------------------------------------------------------------------------//

type worker struct {
	id                     string
	pool                   *workerPool
	stopChan               chan struct{}
	sleepBackoffsInSeconds []int64
}

func newWorker(pool *workerPool, sleepBackoffsInSeconds []int64) *worker {
	return &worker{
		id:                     makeIdentifier(),
		pool:                   pool,
		stopChan:               make(chan struct{}),
		sleepBackoffsInSeconds: sleepBackoffsInSeconds,
	}
}

func (w *worker) start() {
	go w.loop()
}

func (w *worker) stop() {
	w.stopChan <- struct{}{}
}

// loop pulls enqueued jobs, claims them via the conditional update on
// the job row, and runs the mapped handler. When the queue is empty the
// fetch interval backs off along sleepBackoffsInSeconds.
func (w *worker) loop() {
	var consecutiveNoJobs int64

	sleepBackoffs := w.sleepBackoffsInSeconds
	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	logg.Infof("Starting worker %s", w.id)
	for {
		select {
		case <-w.stopChan:
			logg.Infof("Stopping worker %s", w.id)
			return
		case <-rateLimiter.C:
			currentJob, err := models.LastJob(models.ENQUEUED_JOB, false)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					consecutiveNoJobs++
					idx := consecutiveNoJobs
					if idx >= int64(len(sleepBackoffs)) {
						idx = int64(len(sleepBackoffs)) - 1
					}
					rateLimiter.Reset(time.Duration(sleepBackoffs[idx]) * time.Second)
					continue
				}

				w.logError(err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			claimed, err := currentJob.MarkAsClaimed()
			if err != nil {
				w.logError(err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			if !claimed {
				continue
			}

			w.logInfof("running job id=%v name=%v", currentJob.ID, currentJob.Name)
			w.processJob(currentJob)
			rateLimiter.Reset(DefaultTickerDuration)
			consecutiveNoJobs = 0
		}
	}
}

func (w *worker) processJob(job *models.Job) {
	args := make(map[string]interface{})
	err := json.Unmarshal([]byte(job.Args), &args)
	if err != nil {
		w.logError(err)
		w.determineFailedJobFate(job, err)
		return
	}

	handler, ok := w.pool.handlers[job.Handler]
	if !ok {
		w.determineFailedJobFate(job, fmt.Errorf("no handler mapped for %q", job.Handler))
		return
	}

	if err = handler(args); err != nil {
		w.logError(err)
		w.determineFailedJobFate(job, err)
		return
	}

	w.finishJob(job, models.SUCCESSFUL_JOB, "")
}

// determineFailedJobFate requeues a failed job for retry, or marks it
// dead once it has failed MAX_FAILS times.
func (w *worker) determineFailedJobFate(job *models.Job, runError error) {
	job.Fails++

	nextQueue := models.ENQUEUED_JOB
	if job.Fails >= MAX_FAILS {
		nextQueue = models.DEAD_JOB
	}

	w.finishJob(job, nextQueue, runError.Error())
}

func (w *worker) finishJob(job *models.Job, statusName, lastError string) {
	jobStatus, err := models.FindJobStatus(statusName)
	if err != nil {
		w.logError(err)
		return
	}

	err = job.Update(map[string]interface{}{
		"claimed":       false,
		"job_status_id": jobStatus.ID,
		"fails":         job.Fails,
		"last_error":    lastError,
	})
	if err != nil {
		w.logError(err)
	}
	w.logInfof("job with id=%v completed with status=%v", job.ID, statusName)
}

func (w *worker) logInfof(template string, args ...interface{}) {
	logg.Infof(yellow(fmt.Sprintf("[worker %v] ", w.id))+template, args...)
}

func (w *worker) logError(args ...interface{}) {
	logg.Error(append([]interface{}{red(fmt.Sprintf("[worker %v] ", w.id))}, args...)...)
}

// ---------------------------------------------------------------------------------//
// stuck-jobs reaper
// --------------------------------------------------------------------------------//

// stuckJobsReaper requeues jobs that have sat in-progress for too long,
// e.g. after a crash mid-run left them claimed.
type stuckJobsReaper struct {
	stopChan chan struct{}
}

func newStuckJobsReaper() *stuckJobsReaper {
	return &stuckJobsReaper{stopChan: make(chan struct{})}
}

func (r *stuckJobsReaper) start() {
	go r.loop()
}

func (r *stuckJobsReaper) stop() {
	r.stopChan <- struct{}{}
}

func (r *stuckJobsReaper) loop() {
	sleepBackOff := 30
	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	logg.Infof("Starting job reaper")
	for {
		select {
		case <-r.stopChan:
			logg.Infof("Stopping job reaper")
			return
		case <-rateLimiter.C:
			stuckJob, err := models.LastJobLastUpdated(reaperStuckAfterMinutes, models.IN_PROGRESS_JOB)

			if errors.Is(err, gorm.ErrRecordNotFound) {
				rateLimiter.Reset(time.Duration(sleepBackOff) * time.Minute)
				continue
			}

			if err != nil {
				logg.Error(err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			r.requeue(stuckJob)
			rateLimiter.Reset(DefaultTickerDuration)
		}
	}
}

func (r *stuckJobsReaper) requeue(job *models.Job) {
	jobStatus, err := models.FindJobStatus(models.ENQUEUED_JOB)
	if err != nil {
		logg.Error(err)
		return
	}

	err = job.Update(map[string]interface{}{
		"claimed":       false,
		"job_status_id": jobStatus.ID,
	})
	if err != nil {
		logg.Error(err)
		return
	}

	logg.Infof("requeued stuck job id=%v name=%v", job.ID, job.Name)
}
