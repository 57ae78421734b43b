package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saaga0h/jeeves-presence/pkg/config"
	"github.com/saaga0h/jeeves-presence/pkg/metrics"
	"github.com/saaga0h/jeeves-presence/pkg/mqtt"
	"github.com/saaga0h/jeeves-presence/pkg/postgres"
	"github.com/saaga0h/jeeves-presence/pkg/redis"
)

// Bound on the Redis/Postgres/MQTT fan-out of one tick
const storageTimeout = 2 * time.Second

// camera pairs a tracker with the session it currently has open
type camera struct {
	tracker   *Tracker
	sessionID uuid.UUID
	phase     Phase
}

// outcome is what one tick produced, captured under the tracker lock and
// fanned out after it is released
type outcome struct {
	cameraID  string
	sessionID uuid.UUID
	event     *Event
	state     SessionState
	changed   bool
	at        time.Time
}

// Agent turns detector frames into presence sessions. It owns one tracker
// per camera; all tracker access goes through mu.
//
// The MQTT callback runs on paho's ordered router goroutine and must not
// block, so it only enqueues frames. A single worker ticks the trackers and
// performs all network I/O.
type Agent struct {
	mqtt      mqtt.Client
	redis     redis.Client
	postgres  postgres.Client
	processor *Processor
	reducer   Reducer
	storage   *Storage
	sessions  *SessionStore
	cfg       *config.Config
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	cameras map[string]*camera

	frames     chan mqtt.Message
	quit       chan struct{}
	quitOnce   sync.Once
	workerDone chan struct{}

	// queueMu guards the counters below; idle is signalled as frames finish
	queueMu sync.Mutex
	idle    *sync.Cond
	running bool
	started bool
	queued  uint64
	handled uint64
}

// NewAgent creates a new presence agent. pgClient may be nil, in which case
// completed sessions are only published and mirrored.
func NewAgent(mqttClient mqtt.Client, redisClient redis.Client, pgClient postgres.Client, cfg *config.Config, logger *slog.Logger) *Agent {
	a := &Agent{
		mqtt:       mqttClient,
		redis:      redisClient,
		postgres:   pgClient,
		processor:  NewProcessor(logger),
		reducer:    NewReducer(cfg.ConfidenceThreshold, cfg.TargetLabel),
		storage:    NewStorage(redisClient, cfg.MaxEventHistory, logger),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		cameras:    make(map[string]*camera),
		frames:     make(chan mqtt.Message, cfg.FrameQueueSize),
		quit:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	a.idle = sync.NewCond(&a.queueMu)

	if pgClient != nil {
		a.sessions = NewSessionStore(pgClient, logger)
	}

	return a
}

// Start connects to the broker and stores, then processes frames until ctx
// is cancelled
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("Starting presence agent",
		"service_name", a.cfg.ServiceName,
		"mqtt_broker", a.cfg.MQTTAddress(),
		"entry_confirm", a.cfg.EntryConfirmDuration,
		"exit_grace", a.cfg.ExitGraceDuration,
		"confidence_threshold", a.cfg.ConfidenceThreshold,
		"target_label", a.cfg.TargetLabel,
		"frame_queue_size", a.cfg.FrameQueueSize)

	if err := a.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	if err := a.redis.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	if a.postgres != nil {
		if err := a.postgres.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		if err := a.sessions.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	a.startWorker()

	if err := a.mqtt.Subscribe(a.cfg.DetectionTopic, 0, a.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to detections: %w", err)
	}

	a.logger.Info("Presence agent started and ready to receive frames",
		"topic", a.cfg.DetectionTopic)

	<-ctx.Done()
	a.logger.Info("Presence agent stopping")

	return nil
}

// Stop processes frames already queued, closes every open session with a
// forced exit, then releases the broker and store connections
func (a *Agent) Stop() error {
	a.logger.Info("Stopping presence agent")

	if err := a.mqtt.Unsubscribe(a.cfg.DetectionTopic); err != nil {
		a.logger.Warn("Failed to unsubscribe from detections", "error", err)
	}

	a.Drain()
	a.stopWorker()
	a.FlushAll()

	a.mqtt.Disconnect()

	var errs []error
	if err := a.redis.Close(); err != nil {
		a.logger.Error("Error closing Redis connection", "error", err)
		errs = append(errs, err)
	}
	if a.postgres != nil {
		if err := a.postgres.Disconnect(); err != nil {
			a.logger.Error("Error closing Postgres connection", "error", err)
			errs = append(errs, err)
		}
	}

	a.logger.Info("Presence agent stopped")
	return errors.Join(errs...)
}

// Drain blocks until every frame queued so far has been processed
func (a *Agent) Drain() {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()

	target := a.queued
	for a.running && a.handled < target {
		a.idle.Wait()
	}
}

// FlushAll forces an exit for every camera with an open session
func (a *Agent) FlushAll() {
	var outcomes []outcome

	a.mu.Lock()
	for id, cam := range a.cameras {
		now := a.now()
		if last, ok := cam.tracker.LastTick(); ok && now.Before(last) {
			// Frame timestamps may run ahead of the local clock
			now = last
		}

		ev, err := cam.tracker.Flush(now)
		if err != nil {
			a.logger.Error("Failed to flush tracker", "camera", id, "error", err)
			continue
		}
		outcomes = append(outcomes, a.record(id, cam, ev, now))
	}
	a.mu.Unlock()

	for _, out := range outcomes {
		a.dispatch(out)
	}
}

// State returns the tracker state for a camera
func (a *Agent) State(cameraID string) (SessionState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cam, ok := a.cameras[cameraID]
	if !ok {
		return SessionState{}, false
	}
	return cam.tracker.Snapshot(), true
}

// Sessions returns the session store, or nil when Postgres is disabled
func (a *Agent) Sessions() *SessionStore {
	return a.sessions
}

// handleMessage enqueues a frame for the worker. It never blocks: when the
// queue is full the frame is dropped.
func (a *Agent) handleMessage(msg mqtt.Message) {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()

	if !a.running {
		a.logger.Debug("Ignoring frame, worker not running", "topic", msg.Topic())
		return
	}

	select {
	case a.frames <- msg:
		a.queued++
	default:
		a.logger.Warn("Dropping frame, queue full", "topic", msg.Topic(), "queue_size", cap(a.frames))
		metrics.FramesDropped.WithLabelValues(mqtt.LastSegment(msg.Topic()), metrics.ReasonQueueFull).Inc()
	}
}

func (a *Agent) startWorker() {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()

	if a.started {
		return
	}
	a.started = true
	a.running = true

	go a.runWorker()
}

// stopWorker ends the worker after it has emptied the queue
func (a *Agent) stopWorker() {
	a.quitOnce.Do(func() { close(a.quit) })

	a.queueMu.Lock()
	started := a.started
	a.queueMu.Unlock()

	if started {
		<-a.workerDone
	}
}

func (a *Agent) runWorker() {
	defer close(a.workerDone)
	defer func() {
		a.queueMu.Lock()
		a.running = false
		a.idle.Broadcast()
		a.queueMu.Unlock()
	}()

	for {
		select {
		case msg := <-a.frames:
			a.process(msg)
		case <-a.quit:
			for {
				select {
				case msg := <-a.frames:
					a.process(msg)
				default:
					return
				}
			}
		}
	}
}

func (a *Agent) process(msg mqtt.Message) {
	a.processFrame(msg)

	a.queueMu.Lock()
	a.handled++
	a.idle.Broadcast()
	a.queueMu.Unlock()
}

// processFrame runs one detector frame through reducer and tracker
func (a *Agent) processFrame(msg mqtt.Message) {
	topic := msg.Topic()
	cameraID := mqtt.LastSegment(topic)

	frame, err := a.processor.ParseFrame(topic, msg.Payload())
	if err != nil {
		a.logger.Warn("Dropping malformed frame", "topic", topic, "error", err)
		metrics.FramesDropped.WithLabelValues(cameraID, metrics.ReasonMalformed).Inc()
		return
	}
	metrics.FramesTotal.WithLabelValues(frame.CameraID).Inc()

	present, err := a.reducer.Reduce(frame.Detections)
	if err != nil {
		a.logger.Warn("Dropping frame with malformed detection",
			"camera", frame.CameraID, "frame", frame.Sequence, "error", err)
		metrics.FramesDropped.WithLabelValues(frame.CameraID, metrics.ReasonMalformed).Inc()
		return
	}

	now := frame.Timestamp
	if now.IsZero() {
		now = a.now()
	}

	out, err := a.tick(frame.CameraID, present, now)
	if err != nil {
		a.logger.Warn("Dropping out-of-order frame",
			"camera", frame.CameraID, "frame", frame.Sequence, "error", err)
		metrics.FramesDropped.WithLabelValues(frame.CameraID, metrics.ReasonNonMonotonic).Inc()
		return
	}

	a.dispatch(out)
}

func (a *Agent) tick(cameraID string, present bool, now time.Time) (outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cam := a.cameraFor(cameraID)

	ev, err := cam.tracker.Tick(present, now)
	if err != nil {
		return outcome{}, err
	}
	return a.record(cameraID, cam, ev, now), nil
}

// record updates session bookkeeping for a tracker result; callers hold mu
func (a *Agent) record(cameraID string, cam *camera, ev *Event, at time.Time) outcome {
	if ev != nil && ev.Type == EventEntryConfirmed {
		cam.sessionID = uuid.New()
	}

	out := outcome{
		cameraID:  cameraID,
		sessionID: cam.sessionID,
		event:     ev,
		state:     cam.tracker.Snapshot(),
		at:        at,
	}

	if ev != nil && ev.Type == EventExitConfirmed {
		cam.sessionID = uuid.Nil
	}

	out.changed = out.state.Phase != cam.phase
	cam.phase = out.state.Phase

	return out
}

func (a *Agent) cameraFor(id string) *camera {
	cam, ok := a.cameras[id]
	if !ok {
		cam = &camera{
			tracker: NewTracker(TrackerConfig{
				EntryConfirmDuration: a.cfg.EntryConfirmDuration,
				ExitGraceDuration:    a.cfg.ExitGraceDuration,
			}),
			phase: PhaseIdle,
		}
		a.cameras[id] = cam
		a.logger.Info("Tracking new camera", "camera", id)
	}
	return cam
}

// dispatch fans an outcome out to MQTT, Redis, Postgres and metrics
func (a *Agent) dispatch(out outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	if out.event != nil {
		a.handleEvent(ctx, out)
	}
	if out.changed {
		a.syncState(ctx, out)
	}
}

// handleEvent publishes and stores an entry or exit.
// Store failures are logged; publication is never skipped because of them.
func (a *Agent) handleEvent(ctx context.Context, out outcome) {
	ev := *out.event
	cameraID := out.cameraID

	switch ev.Type {
	case EventEntryConfirmed:
		metrics.EntriesTotal.WithLabelValues(cameraID).Inc()
		metrics.Active.WithLabelValues(cameraID).Set(1)
		a.logger.Info("Entry confirmed",
			"camera", cameraID,
			"session_id", out.sessionID,
			"entry_time", ev.EntryTime)

	case EventExitConfirmed:
		metrics.ExitsTotal.WithLabelValues(cameraID, strconv.FormatBool(ev.Forced)).Inc()
		metrics.SessionDuration.WithLabelValues(cameraID).Observe(ev.Duration.Seconds())
		metrics.Active.WithLabelValues(cameraID).Set(0)
		a.logger.Info("Exit confirmed",
			"camera", cameraID,
			"session_id", out.sessionID,
			"entry_time", ev.EntryTime,
			"exit_time", ev.ExitTime,
			"duration", ev.Duration,
			"forced", ev.Forced)

		if a.sessions != nil {
			session := Session{
				ID:        out.sessionID,
				CameraID:  cameraID,
				EntryTime: ev.EntryTime,
				ExitTime:  ev.ExitTime,
				Duration:  ev.Duration,
				Forced:    ev.Forced,
			}
			if err := a.sessions.Save(ctx, session); err != nil {
				a.logger.Error("Failed to store session", "camera", cameraID, "session_id", out.sessionID, "error", err)
			}
		}
	}

	record := NewEventRecord(cameraID, out.sessionID.String(), ev)

	if err := a.publishEvent(record); err != nil {
		a.logger.Error("Failed to publish presence event", "camera", cameraID, "event", ev.Type, "error", err)
	}

	if err := a.storage.AppendEvent(ctx, record); err != nil {
		a.logger.Error("Failed to mirror presence event", "camera", cameraID, "event", ev.Type, "error", err)
	}
}

// syncState mirrors a phase change to Redis and the retained state topic
func (a *Agent) syncState(ctx context.Context, out outcome) {
	a.logger.Debug("Presence phase changed", "camera", out.cameraID, "to", out.state.Phase)

	sessionID := ""
	if out.state.Active() {
		sessionID = out.sessionID.String()
	}

	if err := a.storage.SaveState(ctx, out.cameraID, sessionID, out.state, out.at); err != nil {
		a.logger.Error("Failed to mirror presence state", "camera", out.cameraID, "error", err)
	}

	payload, err := a.processor.BuildStatePayload(out.cameraID, sessionID, out.state, out.at)
	if err != nil {
		a.logger.Error("Failed to build state payload", "camera", out.cameraID, "error", err)
		return
	}
	if err := a.mqtt.Publish(mqtt.PresenceStateTopic(out.cameraID), 1, true, payload); err != nil {
		a.logger.Error("Failed to publish presence state", "camera", out.cameraID, "error", err)
	}
}

// publishEvent publishes an entry or exit to automation/presence/{camera}
func (a *Agent) publishEvent(record EventRecord) error {
	payload, err := a.processor.BuildEventPayload(record)
	if err != nil {
		return err
	}

	topic := mqtt.PresenceEventTopic(record.Camera)
	if err := a.mqtt.Publish(topic, 1, false, payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	a.logger.Debug("Published presence event", "topic", topic, "event", record.Event)
	return nil
}
