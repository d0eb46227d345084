package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

const (
	DefaultMaxIterations = 10
	DefaultPassThreshold = 7
	DefaultSupervisorID  = "supervisor"
	DefaultMonitorID     = "monitor"

	storeWriteTimeout = 5 * time.Second
)

// Executor runs a single agent call.
type Executor interface {
	Execute(ctx context.Context, agentID, task string) (string, error)
}

type Policy interface {
	CanDispatch(agentID string) (bool, string)
}

// Store records finished and in-flight runs for inspection. Failures are
// logged and never change the workflow outcome.
type Store interface {
	CreateRun(ctx context.Context, run domain.Run) error
	AppendEvent(ctx context.Context, runID string, seq int, event domain.ProgressEvent) error
	SaveIterations(ctx context.Context, runID string, records []domain.IterationRecord) error
	FinishRun(ctx context.Context, run domain.Run) error
}

// Bus fans progress events out to live watchers of a run.
type Bus interface {
	Open(runID string)
	Publish(event domain.ProgressEvent) error
	Close(runID string)
}

type Metrics interface {
	ObserveWorkflow(reason string, iterations int, duration time.Duration)
	IncRetry(agentID string)
	ObserveSatisfaction(agentID string, score int)
}

type Config struct {
	MaxIterations       int
	PassThreshold       int
	SupervisorID        string
	MonitorID           string
	EmitIterationEvents bool
	// Agents is the catalogue shown to the supervisor. Entries the policy
	// refuses to dispatch to are left out.
	Agents  []domain.AgentDescriptor
	Metrics Metrics
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.PassThreshold <= 0 {
		c.PassThreshold = DefaultPassThreshold
	}
	if c.SupervisorID == "" {
		c.SupervisorID = DefaultSupervisorID
	}
	if c.MonitorID == "" {
		c.MonitorID = DefaultMonitorID
	}
	return c
}

// Service drives the supervisor, agent and monitor loop. A Service holds no
// per-run state and may run any number of workflows concurrently.
type Service struct {
	executor Executor
	policy   Policy
	store    Store
	bus      Bus
	cfg      Config
	catalog  []domain.AgentDescriptor
	logger   *log.Logger
}

// New wires a workflow service. store and bus are optional.
func New(executor Executor, policy Policy, store Store, bus Bus, cfg Config, logger *log.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	catalog := make([]domain.AgentDescriptor, 0, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		if agent.ID == cfg.SupervisorID || agent.ID == cfg.MonitorID {
			continue
		}
		if policy != nil {
			if allowed, _ := policy.CanDispatch(agent.ID); !allowed {
				continue
			}
		}
		catalog = append(catalog, agent)
	}
	return &Service{
		executor: executor,
		policy:   policy,
		store:    store,
		bus:      bus,
		cfg:      cfg,
		catalog:  catalog,
		logger:   logger,
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

// RunWorkflow answers message by iterating supervisor decisions until the
// supervisor completes, its output cannot be acted on, the iteration cap is
// hit or an agent call fails. Progress is reported to sink, which may be nil.
//
// The returned error is non-nil only when the terminal reason is error; the
// result still carries the trace gathered so far.
func (s *Service) RunWorkflow(ctx context.Context, message string, sink EventSink) (domain.FinalResult, error) {
	return s.RunWorkflowWithID(ctx, uuid.NewString(), message, sink)
}

// RunWorkflowWithID is RunWorkflow with a caller-chosen run id, so watchers
// can subscribe before the first event.
func (s *Service) RunWorkflowWithID(ctx context.Context, runID, message string, sink EventSink) (domain.FinalResult, error) {
	r := &run{
		svc:     s,
		sink:    sink,
		state:   &domain.WorkflowState{RunID: runID, Message: message},
		started: time.Now().UTC(),
	}
	return r.execute(ctx)
}

type run struct {
	svc     *Service
	sink    EventSink
	state   *domain.WorkflowState
	started time.Time
	seq     int
}

func (r *run) execute(ctx context.Context) (domain.FinalResult, error) {
	s := r.svc
	state := r.state

	if s.bus != nil {
		s.bus.Open(state.RunID)
	}
	r.persist(ctx, func(storeCtx context.Context) error {
		return s.store.CreateRun(storeCtx, domain.Run{ID: state.RunID, Message: state.Message, CreatedAt: r.started})
	})
	s.logger.Printf("workflow started run=%s", state.RunID)
	r.emit(ctx, domain.ProgressEvent{Status: domain.EventWorkflowStarted, Message: state.Message})

	state.Iteration = 1
	for {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, domain.TerminalReasonError, "", err)
		}
		if state.Iteration > s.cfg.MaxIterations {
			return r.finish(ctx, domain.TerminalReasonMaxIterations, state.LastResponse(), nil)
		}
		if s.cfg.EmitIterationEvents {
			r.emit(ctx, domain.ProgressEvent{Status: domain.EventIteration, Iteration: state.Iteration})
		}

		directive, err := r.decide(ctx)
		if err != nil {
			return r.finish(ctx, domain.TerminalReasonError, "", err)
		}

		switch d := directive.(type) {
		case domain.CompleteDirective:
			state.Current = d
			reason := domain.TerminalReasonSupervisorComplete
			if d.Degraded {
				reason = domain.TerminalReasonMalformedDirective
			}
			return r.finish(ctx, reason, d.Response, nil)
		case domain.ContinueDirective:
			r.emit(ctx, domain.ProgressEvent{
				Status:    domain.EventAgentSelected,
				Iteration: state.Iteration,
				Agent:     d.Agent,
				Task:      d.Task,
			})
			record, err := r.dispatch(ctx, d)
			if err != nil {
				return r.finish(ctx, domain.TerminalReasonError, "", err)
			}
			state.Current = d
			state.Records = append(state.Records, record)
			state.Iteration++
		}
	}
}

// decide asks the supervisor for the next directive.
func (r *run) decide(ctx context.Context) (domain.Directive, error) {
	s := r.svc
	raw, err := s.executor.Execute(ctx, s.cfg.SupervisorID, supervisorInput(r.state, s.catalog))
	if err != nil {
		return nil, err
	}
	directive := ParseDirective(raw, s.policy)
	if complete, ok := directive.(domain.CompleteDirective); ok && complete.Degraded {
		s.logger.Printf("supervisor output not actionable run=%s iteration=%d chars=%d", r.state.RunID, r.state.Iteration, len(raw))
	}
	return directive, nil
}

// dispatch runs the chosen agent, has the monitor score the response and
// re-runs the agent once with feedback when the score is below threshold.
// The retried response is accepted without a second evaluation.
func (r *run) dispatch(ctx context.Context, d domain.ContinueDirective) (domain.IterationRecord, error) {
	s := r.svc
	iteration := r.state.Iteration

	task := agentTask(r.state.Message, d)
	response, err := s.executor.Execute(ctx, d.Agent, task)
	if err != nil {
		return domain.IterationRecord{}, err
	}

	r.emit(ctx, domain.ProgressEvent{Status: domain.EventMonitoring, Iteration: iteration, Agent: d.Agent})
	eval := r.evaluate(ctx, d, response)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveSatisfaction(d.Agent, eval.Satisfaction)
	}

	record := domain.IterationRecord{
		Iteration:     iteration,
		Agent:         d.Agent,
		Task:          d.Task,
		Response:      response,
		Evaluation:    eval,
		FinalResponse: response,
	}

	if eval.Satisfaction < s.cfg.PassThreshold {
		r.emit(ctx, domain.ProgressEvent{
			Status:       domain.EventRetryRequired,
			Iteration:    iteration,
			Agent:        d.Agent,
			Satisfaction: eval.Satisfaction,
			Feedback:     eval.Feedback,
		})
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.IncRetry(d.Agent)
		}
		improved, err := s.executor.Execute(ctx, d.Agent, retryTask(task, response, eval))
		if err != nil {
			return domain.IterationRecord{}, err
		}
		record.Retried = true
		record.FinalResponse = improved
	}

	r.emit(ctx, domain.ProgressEvent{
		Status:       domain.EventAgentCompleted,
		Iteration:    iteration,
		Agent:        d.Agent,
		Satisfaction: eval.Satisfaction,
		Retried:      record.Retried,
	})
	return record, nil
}

// evaluate scores a response. A failed monitor call counts as a pass.
func (r *run) evaluate(ctx context.Context, d domain.ContinueDirective, response string) domain.Evaluation {
	s := r.svc
	raw, err := s.executor.Execute(ctx, s.cfg.MonitorID, monitorInput(d.Agent, d.Task, response))
	if err != nil {
		s.logger.Printf("monitor call failed run=%s agent=%s err=%v", r.state.RunID, d.Agent, err)
		return domain.Evaluation{Satisfaction: defaultSatisfaction}
	}
	return ParseEvaluation(raw)
}

func (r *run) finish(ctx context.Context, reason domain.TerminalReason, text string, runErr error) (domain.FinalResult, error) {
	s := r.svc
	state := r.state
	state.Terminal = true
	state.Reason = reason

	trace := make([]domain.IterationRecord, len(state.Records))
	copy(trace, state.Records)
	result := domain.FinalResult{
		RunID:          state.RunID,
		Text:           text,
		Trace:          trace,
		TerminalReason: reason,
		Iterations:     len(trace),
	}

	event := domain.ProgressEvent{
		Status:         domain.EventWorkflowComplete,
		Message:        text,
		TerminalReason: reason,
		Trace:          trace,
	}
	lastError := ""
	if runErr != nil {
		lastError = runErr.Error()
		event.Status = domain.EventWorkflowError
		event.Message = lastError
	}
	r.emit(ctx, event)

	finished := time.Now().UTC()
	r.persist(ctx, func(storeCtx context.Context) error {
		if err := s.store.SaveIterations(storeCtx, state.RunID, trace); err != nil {
			return err
		}
		return s.store.FinishRun(storeCtx, domain.Run{
			ID:             state.RunID,
			Message:        state.Message,
			Text:           text,
			TerminalReason: reason,
			LastError:      lastError,
			Iterations:     len(trace),
			CreatedAt:      r.started,
			FinishedAt:     &finished,
		})
	})
	if s.bus != nil {
		s.bus.Close(state.RunID)
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveWorkflow(string(reason), len(trace), finished.Sub(r.started))
	}
	if runErr != nil {
		s.logger.Printf("workflow failed run=%s reason=%s iterations=%d err=%v", state.RunID, reason, len(trace), runErr)
		return result, runErr
	}
	s.logger.Printf("workflow finished run=%s reason=%s iterations=%d", state.RunID, reason, len(trace))
	return result, nil
}

func (r *run) emit(ctx context.Context, event domain.ProgressEvent) {
	s := r.svc
	event.RunID = r.state.RunID
	event.Timestamp = time.Now().UTC()
	r.seq++
	seq := r.seq

	if r.sink != nil {
		r.sink.Emit(event)
	}
	if s.bus != nil {
		if err := s.bus.Publish(event); err != nil {
			s.logger.Printf("event publish dropped run=%s status=%s err=%v", event.RunID, event.Status, err)
		}
	}
	r.persist(ctx, func(storeCtx context.Context) error {
		return s.store.AppendEvent(storeCtx, event.RunID, seq, event)
	})
}

// persist runs a store write detached from the caller's cancellation so a
// cancelled run is still recorded.
func (r *run) persist(ctx context.Context, write func(context.Context) error) {
	if r.svc.store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	if err := write(storeCtx); err != nil {
		r.svc.logger.Printf("run store write failed run=%s err=%v", r.state.RunID, err)
	}
}
