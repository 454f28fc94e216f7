package mission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescuedyne/go-rover/internal/config"
	"github.com/rescuedyne/go-rover/internal/log"
	"github.com/rescuedyne/go-rover/pkg/acquire"
	"github.com/rescuedyne/go-rover/pkg/actuator"
	"github.com/rescuedyne/go-rover/pkg/analyze"
	"github.com/rescuedyne/go-rover/pkg/detect"
	"github.com/rescuedyne/go-rover/pkg/frame"
	"github.com/rescuedyne/go-rover/pkg/segment"
)

// CommandSender delivers movement commands to the actuator controller.
type CommandSender interface {
	Send(ctx context.Context, cmd actuator.Command) error
}

// EventSink receives the mission event feed, normally the dashboard hub.
type EventSink interface {
	BroadcastJSON(v any) error
}

// commandQueueSize bounds pending commands. The fast loop never blocks on
// a slow or unreachable actuator; overflow is dropped and counted.
const commandQueueSize = 16

// recentEventCap bounds the in-memory event ring served to the dashboard.
const recentEventCap = 100

// Orchestrator owns the mission lifecycle. It starts the frame source,
// the segment recorder, both perception loops and the command dispatcher
// under one cancellable context, and brokers everything that crosses
// component boundaries.
type Orchestrator struct {
	cfg    config.Config
	logger *slog.Logger

	source   frame.Source
	recorder *segment.Recorder
	machine  *acquire.Machine
	fastLoop *detect.Loop
	slowLoop *analyze.Loop
	sender   CommandSender
	rescue   RescueProtocol
	sink     EventSink

	cmds    chan actuator.Command
	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	mu               sync.Mutex
	runCtx           context.Context
	startedAt        time.Time
	lastDetection    detect.Result
	lastAssessment   *analyze.Assessment
	rescueActive     bool
	actuatorDegraded bool
	recent           []Event
}

// New wires an orchestrator from its collaborators. sink may be nil when
// no dashboard is attached.
func New(cfg config.Config, source frame.Source, detector detect.Detector,
	analyzer analyze.Analyzer, sender CommandSender, rescue RescueProtocol,
	sink EventSink) *Orchestrator {

	o := &Orchestrator{
		cfg:      cfg,
		logger:   log.Component("mission"),
		source:   source,
		recorder: segment.NewRecorder(cfg.SegmentDuration),
		sender:   sender,
		rescue:   rescue,
		sink:     sink,
		cmds:     make(chan actuator.Command, commandQueueSize),
		runCtx:   context.Background(),
	}

	acqCfg := acquire.DefaultConfig()
	acqCfg.ConfidenceThreshold = cfg.ConfidenceThreshold
	acqCfg.CenterTolerance = cfg.CenterTolerance
	acqCfg.LockCycles = cfg.LockCycles
	acqCfg.LossCycles = cfg.LossCycles
	o.machine = acquire.New(acqCfg)

	o.fastLoop = detect.NewLoop(cfg.MovementFrameRate, cfg.DetectTimeout,
		source, detector, o.handleDetection)
	o.slowLoop = analyze.NewLoop(cfg.DetectionInterval, cfg.AnalyzeTimeout,
		o.recorder, analyzer, o.handleAssessment)
	return o
}

// SetSink attaches the event sink after construction. Call before Run;
// the dashboard needs the orchestrator to exist before it can hand over
// its hub.
func (o *Orchestrator) SetSink(sink EventSink) {
	o.mu.Lock()
	o.sink = sink
	o.mu.Unlock()
}

// Run executes the mission until ctx is cancelled. A camera that cannot
// be acquired, or one that dies mid-mission beyond its retry budget, is
// fatal; everything downstream degrades instead of stopping the mission.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.runCtx = ctx
	o.startedAt = time.Now()
	o.mu.Unlock()

	if err := o.source.Start(ctx); err != nil {
		return fmt.Errorf("mission: start frame source: %w", err)
	}
	defer o.source.Close()

	frames, cancelStream := o.source.Stream("segment-recorder")
	defer cancelStream()

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(loopCtx)
		}()
	}
	run(func(ctx context.Context) { o.recorder.Run(ctx, frames) })
	run(o.fastLoop.Run)
	run(o.slowLoop.Run)
	run(o.dispatch)

	o.logger.Info("mission started",
		"mission", o.cfg.MissionID, "rover", o.cfg.RoverName,
		"segment_duration", o.cfg.SegmentDuration,
		"movement_rate", o.cfg.MovementFrameRate,
		"detection_interval", o.cfg.DetectionInterval)
	snap := o.Snapshot()
	o.publish(Event{Kind: EventState, Timestamp: time.Now(),
		Message: "mission started", State: &snap})

	ticker := time.NewTicker(o.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			final := o.Snapshot()
			o.publish(Event{Kind: EventShutdown, Timestamp: time.Now(),
				Message: "mission complete", State: &final})
			o.logger.Info("mission stopped",
				"uptime", final.Uptime,
				"detection_ticks", final.DetectionTicks,
				"scans", final.Scans,
				"survivors_seen", final.SurvivorsSeen,
				"commands_sent", final.CommandsSent)
			return nil

		case <-o.source.Done():
			err := o.source.Err()
			o.logger.Error("frame source failed, aborting mission", "error", err)
			o.publish(Event{Kind: EventDegraded, Timestamp: time.Now(),
				Message: "frame source lost"})
			cancelLoops()
			wg.Wait()
			final := o.Snapshot()
			o.publish(Event{Kind: EventShutdown, Timestamp: time.Now(),
				Message: "mission aborted", State: &final})
			return fmt.Errorf("mission: frame source failed: %w", err)

		case <-ticker.C:
			o.logStatus()
		}
	}
}

// handleDetection is invoked by the fast loop, strictly in tick order.
func (o *Orchestrator) handleDetection(res detect.Result) {
	o.mu.Lock()
	o.lastDetection = res
	o.mu.Unlock()

	cmds := o.machine.Observe(res)
	if len(cmds) == 0 {
		return
	}

	st := o.machine.State()
	o.publish(Event{Kind: EventDetection, Timestamp: res.Timestamp,
		Message: st.Phase.String(), Detection: &res})
	for _, cmd := range cmds {
		o.enqueue(cmd)
	}
}

// handleAssessment is invoked by the slow loop for each successful scan.
func (o *Orchestrator) handleAssessment(a analyze.Assessment) {
	o.mu.Lock()
	cp := a
	o.lastAssessment = &cp
	o.mu.Unlock()

	o.publish(Event{Kind: EventAssessment, Timestamp: a.Timestamp,
		Message: string(a.RescuePriority), Assessment: &a})

	if a.RescuePriority.AtLeast(analyze.PriorityHigh) {
		o.triggerRescue(a)
	}
}

// triggerRescue runs the rescue sequence at most once per mission: hold
// the rover, mark the protocol active, publish a single trigger event,
// then hand off to the collaborator.
func (o *Orchestrator) triggerRescue(a analyze.Assessment) {
	o.mu.Lock()
	if o.rescueActive {
		o.mu.Unlock()
		return
	}
	o.rescueActive = true
	ctx := o.runCtx
	o.mu.Unlock()

	hold := o.machine.ForceHold()
	o.enqueue(hold)

	o.logger.Info("rescue protocol triggered",
		"priority", a.RescuePriority, "survivors", a.SurvivorCount,
		"action", a.RecommendedAction)
	o.publish(Event{Kind: EventRescueTrigger, Timestamp: time.Now(),
		Message: a.RecommendedAction, Assessment: &a})

	go func() {
		if err := o.rescue.Execute(ctx, a); err != nil {
			o.logger.Error("rescue protocol handoff failed", "error", err)
			return
		}
		o.logger.Info("rescue protocol handoff complete")
	}()
}

// enqueue queues a command for dispatch without ever blocking the caller.
func (o *Orchestrator) enqueue(cmd actuator.Command) {
	select {
	case o.cmds <- cmd:
	default:
		o.dropped.Add(1)
		o.logger.Warn("command queue full, dropping command",
			"intent", cmd.Intent, "token", cmd.Token)
	}
}

// dispatch delivers queued commands to the actuator. An unreachable
// controller marks the mission degraded; the perception loops keep
// running and the next cycle generates fresh commands.
func (o *Orchestrator) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-o.cmds:
			if err := o.sender.Send(ctx, cmd); err != nil {
				o.failed.Add(1)
				o.setActuatorDegraded(true, err)
				continue
			}
			o.sent.Add(1)
			o.setActuatorDegraded(false, nil)
		}
	}
}

func (o *Orchestrator) setActuatorDegraded(degraded bool, cause error) {
	o.mu.Lock()
	changed := o.actuatorDegraded != degraded
	o.actuatorDegraded = degraded
	o.mu.Unlock()
	if !changed {
		return
	}

	if degraded {
		o.logger.Warn("actuator unreachable, mission degraded", "error", cause)
		o.publish(Event{Kind: EventDegraded, Timestamp: time.Now(),
			Message: "actuator unreachable"})
		return
	}
	o.logger.Info("actuator recovered")
}

// publish records an event on the recent ring and forwards it to the
// sink. The feed is best effort; the dashboard polls state to catch up.
func (o *Orchestrator) publish(ev Event) {
	o.mu.Lock()
	o.recent = append(o.recent, ev)
	if len(o.recent) > recentEventCap {
		o.recent = o.recent[len(o.recent)-recentEventCap:]
	}
	sink := o.sink
	o.mu.Unlock()

	if sink != nil {
		if err := sink.BroadcastJSON(ev); err != nil {
			o.logger.Warn("event broadcast failed", "kind", ev.Kind, "error", err)
		}
	}
}

// Recent returns a copy of the recent event ring, oldest first.
func (o *Orchestrator) Recent() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Event, len(o.recent))
	copy(out, o.recent)
	return out
}

// Snapshot assembles the current mission state.
func (o *Orchestrator) Snapshot() State {
	ticks, dfails := o.fastLoop.Stats()
	scans, sfails, survivors := o.slowLoop.Stats()
	sealed, discarded := o.recorder.Stats()
	st := o.machine.State()

	o.mu.Lock()
	defer o.mu.Unlock()
	return State{
		MissionID:         o.cfg.MissionID,
		RoverName:         o.cfg.RoverName,
		StartedAt:         o.startedAt,
		Uptime:            time.Since(o.startedAt).Round(time.Second).String(),
		Phase:             st.Phase.String(),
		Held:              st.Held,
		RescueActive:      o.rescueActive,
		ActuatorDegraded:  o.actuatorDegraded,
		CaptureDegraded:   o.source.Degraded(),
		LastDetection:     o.lastDetection,
		LastAssessment:    o.lastAssessment,
		DetectionTicks:    ticks,
		DetectionFailures: dfails,
		Scans:             scans,
		ScanFailures:      sfails,
		SurvivorsSeen:     survivors,
		SegmentsSealed:    sealed,
		SegmentsDiscarded: discarded,
		CommandsSent:      o.sent.Load(),
		CommandsFailed:    o.failed.Load(),
		CommandsDropped:   o.dropped.Load(),
	}
}

func (o *Orchestrator) logStatus() {
	snap := o.Snapshot()
	o.logger.Info("mission status",
		"uptime", snap.Uptime,
		"phase", snap.Phase,
		"detection_ticks", snap.DetectionTicks,
		"scans", snap.Scans,
		"survivors_seen", snap.SurvivorsSeen,
		"segments_sealed", snap.SegmentsSealed,
		"commands_sent", snap.CommandsSent,
		"actuator_degraded", snap.ActuatorDegraded,
		"capture_degraded", snap.CaptureDegraded,
		"rescue_active", snap.RescueActive)
	o.publish(Event{Kind: EventState, Timestamp: time.Now(),
		Message: "status", State: &snap})
}
