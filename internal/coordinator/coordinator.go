package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MacJediWizard/strongbox/internal/metrics"
	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidTrigger is returned when the agent ID or backup name is empty.
	ErrInvalidTrigger = errors.New("agent id and backup name are required")
	// ErrNotConnected is returned when the agent has no live connection. No state is created.
	ErrNotConnected = errors.New("agent not connected")
	// ErrRequestTimeout is returned when the agent does not answer within the trigger timeout.
	ErrRequestTimeout = errors.New("timed out waiting for backup result")
	// ErrAgentDisconnected is returned when the agent's connection drops while a trigger is in flight.
	ErrAgentDisconnected = errors.New("agent disconnected before reporting a result")
	// ErrSendFailed is returned when the trigger message could not be written to the agent.
	ErrSendFailed = errors.New("failed to send trigger to agent")
	// ErrRemoteBackupFailure is wrapped by RemoteBackupError.
	ErrRemoteBackupFailure = errors.New("remote backup failed")
	// ErrClosed is returned for triggers still in flight when the coordinator shuts down.
	ErrClosed = errors.New("coordinator closed")
)

// RemoteBackupError carries the failure the agent reported.
type RemoteBackupError struct {
	Result *models.TriggerResult
}

func (e *RemoteBackupError) Error() string {
	if e.Result == nil || e.Result.Error == "" {
		return ErrRemoteBackupFailure.Error()
	}
	return e.Result.Error
}

func (e *RemoteBackupError) Unwrap() error {
	return ErrRemoteBackupFailure
}

// Config holds coordinator tunables.
type Config struct {
	// TriggerTimeout bounds how long a trigger waits for the agent's result.
	TriggerTimeout time.Duration
	// SendTimeout bounds writing the trigger message to the connection.
	SendTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TriggerTimeout: 10 * time.Minute,
		SendTimeout:    10 * time.Second,
	}
}

// triggerLock is the single in-flight trigger for one agent and backup name.
type triggerLock struct {
	key        string
	agentID    string
	backupName string
	requestID  string
	startedAt  time.Time
	pending    *Pending
	timer      *time.Timer
	waiters    int
}

// Coordinator ensures at most one trigger message is in flight per agent and
// backup name, and fans the single outcome out to every caller.
type Coordinator struct {
	cfg         Config
	registry    *Registry
	correlator  *Correlator
	broadcaster *Broadcaster
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	mu        sync.Mutex
	locks     map[string]*triggerLock
	byRequest map[string]*triggerLock
	now       func() time.Time
}

// New creates a Coordinator. Zero config fields fall back to DefaultConfig.
func New(cfg Config, registry *Registry, correlator *Correlator, broadcaster *Broadcaster, m *metrics.Metrics, logger zerolog.Logger) *Coordinator {
	defaults := DefaultConfig()
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = defaults.TriggerTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaults.SendTimeout
	}
	return &Coordinator{
		cfg:         cfg,
		registry:    registry,
		correlator:  correlator,
		broadcaster: broadcaster,
		metrics:     m,
		logger:      logger.With().Str("component", "trigger_coordinator").Logger(),
		locks:       make(map[string]*triggerLock),
		byRequest:   make(map[string]*triggerLock),
		now:         time.Now,
	}
}

func lockKey(agentID, backupName string) string {
	return agentID + ":" + backupName
}

// Trigger asks the agent to run backupName now and blocks until the agent
// answers, the trigger times out, the agent disconnects, or ctx ends.
// Concurrent calls for the same agent and backup name share one request.
func (c *Coordinator) Trigger(ctx context.Context, agentID, backupName string) (*models.TriggerResult, error) {
	if agentID == "" || backupName == "" {
		return nil, ErrInvalidTrigger
	}
	key := lockKey(agentID, backupName)

	c.mu.Lock()
	if l, ok := c.locks[key]; ok {
		l.waiters++
		pending := l.pending
		c.mu.Unlock()

		c.logger.Debug().
			Str("agent_id", agentID).
			Str("backup_name", backupName).
			Str("request_id", pending.RequestID).
			Msg("attached to in-flight trigger")
		return pending.Wait(ctx)
	}

	conn, ok := c.registry.Get(agentID)
	if !ok || !conn.IsOpen() {
		c.mu.Unlock()
		c.metrics.RecordTrigger(metrics.OutcomeNotConnected, 0)
		return nil, ErrNotConnected
	}

	requestID := uuid.New().String()
	l := &triggerLock{
		key:        key,
		agentID:    agentID,
		backupName: backupName,
		requestID:  requestID,
		startedAt:  c.now(),
		pending:    c.correlator.Track(requestID),
	}
	l.timer = time.AfterFunc(c.cfg.TriggerTimeout, func() {
		if c.settle(requestID, "", nil, ErrRequestTimeout, metrics.OutcomeTimeout) {
			c.logger.Warn().
				Str("agent_id", agentID).
				Str("backup_name", backupName).
				Str("request_id", requestID).
				Dur("timeout", c.cfg.TriggerTimeout).
				Msg("trigger timed out")
		}
	})
	c.locks[key] = l
	c.byRequest[requestID] = l
	c.metrics.SetTriggersInFlight(len(c.locks))
	c.broadcaster.Publish(agentID, backupName, models.TriggerStatusQueued)
	c.mu.Unlock()

	c.logger.Info().
		Str("agent_id", agentID).
		Str("backup_name", backupName).
		Str("request_id", requestID).
		Msg("sending backup trigger")

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.SendTimeout)
	err := conn.Send(sendCtx, models.NewTriggerBackupMessage(backupName, requestID))
	cancel()
	if err != nil {
		c.logger.Error().Err(err).
			Str("agent_id", agentID).
			Str("request_id", requestID).
			Msg("failed to send backup trigger")
		c.settle(requestID, "", nil, fmt.Errorf("%w: %v", ErrSendFailed, err), metrics.OutcomeSendFailed)
	} else {
		c.markSent(l)
	}

	return l.pending.Wait(ctx)
}

// markSent publishes in_progress unless the trigger already settled.
func (c *Coordinator) markSent(l *triggerLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byRequest[l.requestID] == l {
		c.broadcaster.Publish(l.agentID, l.backupName, models.TriggerStatusInProgress)
	}
}

// HandleResult settles the trigger matching msg.RequestID if it was sent to agentID.
// Unknown, late, duplicate and foreign results are ignored and reported as false.
func (c *Coordinator) HandleResult(agentID string, msg *models.BackupResultMessage) bool {
	if msg == nil || msg.RequestID == "" {
		return false
	}

	c.mu.Lock()
	l, ok := c.byRequest[msg.RequestID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().
			Str("agent_id", agentID).
			Str("request_id", msg.RequestID).
			Msg("ignoring result for unknown request")
		return false
	}

	result := &models.TriggerResult{
		RequestID:   msg.RequestID,
		ClientID:    l.agentID,
		BackupName:  l.backupName,
		Success:     msg.Success,
		Error:       msg.Error,
		StartedAt:   l.startedAt,
		CompletedAt: c.now(),
	}

	var settled bool
	if msg.Success {
		settled = c.settle(msg.RequestID, agentID, result, nil, metrics.OutcomeCompleted)
	} else {
		settled = c.settle(msg.RequestID, agentID, nil, &RemoteBackupError{Result: result}, metrics.OutcomeFailed)
	}
	if !settled {
		c.logger.Warn().
			Str("agent_id", agentID).
			Str("request_id", msg.RequestID).
			Msg("ignoring result from agent that does not own the request")
		return false
	}

	c.logger.Info().
		Str("agent_id", agentID).
		Str("backup_name", l.backupName).
		Str("request_id", msg.RequestID).
		Bool("success", msg.Success).
		Msg("backup trigger finished")
	return true
}

// DropAgent rejects every in-flight trigger for agentID with ErrAgentDisconnected.
// It returns the number of triggers rejected.
func (c *Coordinator) DropAgent(agentID string) int {
	c.mu.Lock()
	var ids []string
	for id, l := range c.byRequest {
		if l.agentID == agentID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	n := 0
	for _, id := range ids {
		if c.settle(id, agentID, nil, ErrAgentDisconnected, metrics.OutcomeDisconnected) {
			n++
		}
	}
	if n > 0 {
		c.logger.Warn().Str("agent_id", agentID).Int("count", n).Msg("rejected in-flight triggers for disconnected agent")
	}
	return n
}

// Close rejects every in-flight trigger with ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.byRequest))
	for id := range c.byRequest {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.settle(id, "", nil, ErrClosed, metrics.OutcomeFailed)
	}
}

// settle removes the lock for requestID and then settles the correlator entry,
// so a trigger issued after the outcome is observed always starts fresh.
// A non-empty agentID must match the agent the trigger was sent to.
func (c *Coordinator) settle(requestID, agentID string, result *models.TriggerResult, err error, outcome string) bool {
	c.mu.Lock()
	l, ok := c.byRequest[requestID]
	if !ok || (agentID != "" && l.agentID != agentID) {
		c.mu.Unlock()
		return false
	}
	delete(c.byRequest, requestID)
	delete(c.locks, l.key)
	l.timer.Stop()

	status := models.TriggerStatusCompleted
	if err != nil {
		status = models.TriggerStatusFailed
	}
	c.broadcaster.Publish(l.agentID, l.backupName, status)
	c.metrics.SetTriggersInFlight(len(c.locks))
	waiters := l.waiters
	c.mu.Unlock()

	c.logger.Debug().
		Str("request_id", requestID).
		Str("outcome", outcome).
		Int("waiters", waiters).
		Msg("trigger settled")

	c.metrics.RecordTrigger(outcome, c.now().Sub(l.startedAt))
	if err != nil {
		c.correlator.Reject(requestID, err)
	} else {
		c.correlator.Resolve(requestID, result)
	}
	return true
}

// Running returns the backup names with an in-flight trigger for agentID, sorted.
func (c *Coordinator) Running(agentID string) []string {
	c.mu.Lock()
	names := make([]string, 0)
	for _, l := range c.locks {
		if l.agentID == agentID {
			names = append(names, l.backupName)
		}
	}
	c.mu.Unlock()

	sort.Strings(names)
	return names
}

// InFlight returns the number of in-flight triggers.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
