package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RestartPolicy controls when a supervised task is restarted after its
// runner returns.
type RestartPolicy string

const (
	// RestartAlways restarts the task no matter how it exited.
	RestartAlways RestartPolicy = "always"
	// RestartOnError restarts only after a non-nil error.
	RestartOnError RestartPolicy = "on_error"
	// RestartNever runs the task at most once.
	RestartNever RestartPolicy = "never"
)

// SupervisorPolicy bounds the restart behavior shared by all tasks.
type SupervisorPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// MaxRestarts gives up on a task after this many restarts; zero means
	// unlimited.
	MaxRestarts int
}

// TaskStatus is the observable state of one supervised task.
type TaskStatus struct {
	Name         string        `json:"name"`
	Restart      RestartPolicy `json:"restart"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
	GaveUp       bool          `json:"gave_up"`
}

func defaultSupervisorPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func normalizePolicy(policy SupervisorPolicy) SupervisorPolicy {
	def := defaultSupervisorPolicy()
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	return policy
}

// Supervisor keeps the engine's background tasks alive: the acquisition
// stream and the reinforcement consumer. Each task restarts independently
// with exponential backoff.
type Supervisor struct {
	policy SupervisorPolicy

	mu       sync.Mutex
	tasks    map[string]*supervisedTask
	finished map[string]TaskStatus
}

type supervisedTask struct {
	cancel  context.CancelFunc
	done    chan struct{}
	name    string
	restart RestartPolicy

	restartCount int
	lastErr      error
	gaveUp       bool
}

// NewSupervisor builds a supervisor with the policy normalized against the
// defaults.
func NewSupervisor(policy SupervisorPolicy) *Supervisor {
	return &Supervisor{
		policy:   normalizePolicy(policy),
		tasks:    make(map[string]*supervisedTask),
		finished: make(map[string]TaskStatus),
	}
}

// Start launches run under the given name. Starting an already-running name
// is an error; a finished name may be started again.
func (s *Supervisor) Start(name string, restart RestartPolicy, run func(ctx context.Context) error) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if run == nil {
		return errors.New("task runner is required")
	}
	switch restart {
	case RestartAlways, RestartOnError, RestartNever:
	default:
		restart = RestartOnError
	}

	s.mu.Lock()
	if _, exists := s.tasks[name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task already running: %s", name)
	}
	delete(s.finished, name)
	ctx, cancel := context.WithCancel(context.Background())
	task := &supervisedTask{
		cancel:  cancel,
		done:    make(chan struct{}),
		name:    name,
		restart: restart,
	}
	s.tasks[name] = task
	s.mu.Unlock()

	go s.runTask(ctx, task, run)
	return nil
}

func (s *Supervisor) runTask(ctx context.Context, task *supervisedTask, run func(ctx context.Context) error) {
	defer func() {
		s.mu.Lock()
		if current, ok := s.tasks[task.name]; ok && current == task {
			if task.gaveUp || task.restartCount > 0 || task.lastErr != nil {
				s.finished[task.name] = statusOf(task)
			}
			delete(s.tasks, task.name)
		}
		s.mu.Unlock()
		close(task.done)
	}()

	backoff := s.policy.InitialBackoff
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		restart := task.restart == RestartAlways || (task.restart == RestartOnError && err != nil)
		if !restart {
			return
		}

		s.mu.Lock()
		task.lastErr = err
		if s.policy.MaxRestarts > 0 && task.restartCount >= s.policy.MaxRestarts {
			task.gaveUp = true
			s.mu.Unlock()
			return
		}
		task.restartCount++
		s.mu.Unlock()

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * s.policy.BackoffFactor)
		if backoff > s.policy.MaxBackoff {
			backoff = s.policy.MaxBackoff
		}
	}
}

// Stop cancels one task and waits for it to exit.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	delete(s.finished, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	task.cancel()
	<-task.done
}

// StopAll cancels every task and waits for all of them.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tasks := make([]*supervisedTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.finished = make(map[string]TaskStatus)
	s.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	for _, task := range tasks {
		<-task.done
	}
}

// Tasks returns the names of the currently running tasks, sorted.
func (s *Supervisor) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Children reports the status of running tasks plus finished tasks that
// restarted or failed at least once.
func (s *Supervisor) Children() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks)+len(s.finished))
	for name := range s.tasks {
		names = append(names, name)
	}
	for name := range s.finished {
		if _, active := s.tasks[name]; !active {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]TaskStatus, 0, len(names))
	for _, name := range names {
		if task, ok := s.tasks[name]; ok {
			out = append(out, statusOf(task))
			continue
		}
		out = append(out, s.finished[name])
	}
	return out
}

func statusOf(task *supervisedTask) TaskStatus {
	status := TaskStatus{
		Name:         task.name,
		Restart:      task.restart,
		RestartCount: task.restartCount,
		GaveUp:       task.gaveUp,
	}
	if task.lastErr != nil {
		status.LastError = task.lastErr.Error()
	}
	return status
}
