package planner

import (
	"errors"

	"apcore/core"
	"apcore/standalone"
	"apcore/standalone/kinematics"
	"apcore/standalone/stepgen"
)

// State is the planner's coarse execution state.
type State uint8

const (
	StateBuffering State = iota
	StateStepping
	StateAborted
)

// PullHandler is invoked whenever the planner has freed room in its segment
// ring for another command from an external source (a G-code stream, a host
// channel). The callback must respond by calling exactly one of
// AxesCommandDone, ChannelCommandDone, EmptyDone or WaitFinished before
// returning, mirroring the command-source contract an ISR-paced planner
// needs from whatever feeds it.
type PullHandler func()

// Planner accumulates incoming moves into a fixed-capacity look-ahead ring,
// runs the backward/forward velocity passes over it, and commits a leading
// window of the resulting per-axis trapezoids to the stepper command
// generators, leaving the remainder in the ring to be replanned as more
// segments arrive.
type Planner struct {
	config     *standalone.MachineConfig
	kinematics kinematics.Kinematics
	steppers   map[string]*stepgen.Stepper

	// ring is a fixed-size circular buffer of uncommitted segments
	// (LookaheadBufferSize entries, allocated once); ringStart/ringLength
	// describe the live window within it. Nothing here grows past the size
	// fixed at construction.
	ring       []*Segment
	ringStart  int
	ringLength int

	// lastSegment is the most recently appended segment, committed or not;
	// it survives a commit (which drops segments out of the ring) so the
	// next segment built still has a real junction partner to compare
	// against instead of starting fresh at every commit boundary.
	lastSegment *Segment

	// stagingV2 is the entry velocity^2 the forward pass should continue
	// from: the exit velocity^2 of the last segment actually committed to a
	// stepper. syncing is true once a commit has been published and the
	// ISR is presumed to still be consuming it; it is re-sampled (under a
	// critical section, against the steppers' live activity) at the start
	// of every commit attempt, and going false collapses stagingV2 back to
	// 0 since the velocity a stalled ISR actually stopped at is unknown.
	stagingV2 float64
	syncing   bool

	currentPos standalone.Position
	state      State

	channelHandler  func(ChannelEvent)
	abortedHandler  func(remSteps map[string]uint32)
	pullHandler     PullHandler
	finishedHandler func()
	inPullCallback  bool
}

// homingTimeoutTicks bounds a single-axis homing move in case its endstop
// never triggers (disconnected wiring, wrong polarity).
const homingTimeoutTicks = core.TimerFreq * 30

// NewPlanner creates a new motion planner.
func NewPlanner(config *standalone.MachineConfig, kin kinematics.Kinematics) *Planner {
	return &Planner{
		config:     config,
		kinematics: kin,
		steppers:   make(map[string]*stepgen.Stepper),
		currentPos: standalone.Position{},
		ring:       make([]*Segment, lookaheadCapacity(config)),
		state:      StateBuffering,
	}
}

func lookaheadCapacity(cfg *standalone.MachineConfig) int {
	if cfg.LookaheadBufferSize > 0 {
		return cfg.LookaheadBufferSize
	}
	return 16
}

func commitThreshold(cfg *standalone.MachineConfig) int {
	if cfg.LookaheadCommitCount > 0 {
		return cfg.LookaheadCommitCount
	}
	return 8
}

// segmentAt returns the i-th live segment in ring order (0 is the oldest
// uncommitted segment).
func (p *Planner) segmentAt(i int) *Segment {
	return p.ring[(p.ringStart+i)%len(p.ring)]
}

// pushSegment appends a segment to the ring, reporting false if the ring is
// already at LookaheadBufferSize capacity.
func (p *Planner) pushSegment(seg *Segment) bool {
	if p.ringLength >= len(p.ring) {
		return false
	}
	idx := (p.ringStart + p.ringLength) % len(p.ring)
	p.ring[idx] = seg
	p.ringLength++
	return true
}

// dropFront removes the n oldest segments from the ring (the committed
// region, once their stepper commands have been published).
func (p *Planner) dropFront(n int) {
	for i := 0; i < n; i++ {
		p.ring[p.ringStart] = nil
		p.ringStart = (p.ringStart + 1) % len(p.ring)
	}
	p.ringLength -= n
}

// ringSlice materializes the ring's live window as a plain slice for the
// backward/forward passes, which walk a contiguous []*Segment. It allocates
// on every planning call, as do the passes and segment construction; all of
// that happens on the host-side planning call, never inside the step ISR, the
// same split the teacher's own code draws between command assembly and the
// interrupt-driven pacing engine.
func (p *Planner) ringSlice() []*Segment {
	segs := make([]*Segment, p.ringLength)
	for i := 0; i < p.ringLength; i++ {
		segs[i] = p.segmentAt(i)
	}
	return segs
}

// ringFull reports whether the look-ahead window is at capacity.
func (p *Planner) ringFull() bool {
	return p.ringLength >= len(p.ring)
}

// InitSteppers initializes stepper motors for all configured axes.
func (p *Planner) InitSteppers(gpioDriver core.GPIODriver) error {
	axisNames := p.kinematics.GetAxisNames()

	for _, name := range axisNames {
		axisConfig, ok := p.config.Axes[name]
		if !ok {
			continue
		}

		stepper, err := stepgen.NewStepper(name, axisConfig)
		if err != nil {
			return err
		}

		if err := stepper.InitPins(gpioDriver); err != nil {
			return err
		}

		if endstop, ok := p.config.Endstops[name]; ok {
			if err := stepper.InitEndstop(gpioDriver, endstop); err != nil {
				return err
			}
		}

		stepper.SetAbortHandler(p.onStepperAbort)

		p.steppers[name] = stepper
	}

	return nil
}

// SetAbortedHandler registers the callback invoked with each axis's
// unexecuted step count the instant a stepper's endstop (or any other
// PrestepCallback veto) latches an abort, per the physical-error taxonomy.
func (p *Planner) SetAbortedHandler(h func(remSteps map[string]uint32)) {
	p.abortedHandler = h
}

// SetPullHandler registers the callback the planner invokes whenever its
// segment ring has room for another command.
func (p *Planner) SetPullHandler(h PullHandler) {
	p.pullHandler = h
}

// SetFinishedHandler registers the callback invoked once the planner drains
// to idle after WaitFinished.
func (p *Planner) SetFinishedHandler(h func()) {
	p.finishedHandler = h
}

// onStepperAbort is installed on every stepper as its abort handler; it
// latches the planner itself into ABORTED and reports the per-axis
// unexecuted remainder, mirroring Abort()'s own path but triggered from the
// stepper side (endstop hit) rather than a planner-detected fault.
func (p *Planner) onStepperAbort(*stepgen.Stepper) {
	p.state = StateAborted
	if p.abortedHandler != nil {
		p.abortedHandler(p.CountAbortedRemSteps())
	}
}

// HomeAxis drives the named axis toward its configured endstop at its
// homing velocity, vetoing the step that would trip it (rather than
// stepping through it) and stopping the instant it triggers. On success the
// axis's position is zeroed at its configured minimum.
func (p *Planner) HomeAxis(name string) error {
	if p.state == StateAborted {
		return errors.New("planner is aborted")
	}
	axis, ok := p.config.Axes[name]
	if !ok {
		return errors.New("unknown axis: " + name)
	}
	if _, ok := p.config.Endstops[name]; !ok {
		return errors.New("no endstop configured for axis: " + name)
	}
	stepper, ok := p.steppers[name]
	if !ok {
		return errors.New("no stepper for axis: " + name)
	}

	vel := axis.HomingVel
	if vel <= 0 {
		vel = p.config.DefaultVelocity
	}
	sweep := axis.MaxPosition - axis.MinPosition
	if sweep <= 0 {
		sweep = 10
	}
	steps := uint32(sweep*axis.StepsPerMM + 0.5)

	cmds := stepgen.GenerateAxisCommands(false /* toward MinPosition */, steps, sweep, 0, 0, vel, 0, 0)

	var triggered bool
	stepper.ClearAbort()
	stepper.ArmHoming(&triggered)
	defer stepper.DisarmHoming()

	if err := stepper.EnqueueCommands(cmds); err != nil {
		return err
	}

	start := core.GetTime()
	for stepper.IsActive() && !stepper.IsAborted() {
		core.ProcessTimers()
		if int32(core.GetTime()-start) >= int32(homingTimeoutTicks) {
			stepper.Stop()
			return errors.New("timed out homing axis " + name)
		}
	}

	if !triggered {
		return errors.New("homing move for axis " + name + " completed without triggering its endstop")
	}

	// The endstop-triggered abort path latched the planner itself; clear
	// it here since this was an expected homing trigger, not a fault.
	stepper.ClearAbort()
	p.state = StateBuffering

	pos := p.currentPos
	switch name {
	case "x":
		pos.X = axis.MinPosition
	case "y":
		pos.Y = axis.MinPosition
	case "z":
		pos.Z = axis.MinPosition
	case "e":
		pos.E = axis.MinPosition
	}
	p.SetPosition(pos)
	return nil
}

// SetChannelHandler registers the callback invoked when a committed
// channel (non-axis) event reaches the front of the motion stream, keeping
// heater/fan changes ordered with respect to the moves they were issued
// alongside.
func (p *Planner) SetChannelHandler(h func(ChannelEvent)) {
	p.channelHandler = h
}

// QueueMove adds a move to the look-ahead window, splitting it first if any
// axis's step count would exceed its stepper's representable range. It is
// the direct-call counterpart of AxesCommandDone: the same method a
// PullHandler callback uses to answer a pull.
func (p *Planner) QueueMove(move *standalone.Move) error {
	if p.state == StateAborted {
		return errors.New("planner is aborted")
	}

	if p.state == StateStepping && p.ringLength == 0 && !p.anyStepperActive() {
		// The previous batch's steppers finished before this move arrived:
		// the stepper queue ran dry with nothing buffered behind it.
		core.RecordTiming(core.EvtPlannerUnderrun, 0, core.GetTime(), 0, 0)
		p.state = StateBuffering
		p.syncing = false
		p.stagingV2 = 0
	}

	if err := p.kinematics.CheckLimits(move.End); err != nil {
		return err
	}

	deltas := map[string]float64{
		"x": move.End.X - move.Start.X,
		"y": move.End.Y - move.Start.Y,
		"z": move.End.Z - move.Start.Z,
		"e": move.End.E - move.Start.E,
	}

	stepsPerMM := make(map[string]float64, len(p.config.Axes))
	for name, axCfg := range p.config.Axes {
		stepsPerMM[name] = axCfg.StepsPerMM
	}

	maxSteps := DefaultMaxSteps(p.stepFixedBits())
	chunks := SplitMove(deltas, stepsPerMM, maxSteps)

	velocity := move.Velocity
	if velocity <= 0 {
		velocity = p.config.DefaultVelocity
	}
	accel := move.Accel
	if accel <= 0 {
		accel = p.config.DefaultAccel
	}

	for _, chunk := range chunks {
		seg := BuildAxisSegment(chunk, velocity, accel, p.config, p.lastSegment)
		if seg == nil {
			continue // zero-length chunk: no-op, per the zero-length-move invariant
		}
		if err := p.waitForRingSpace(); err != nil {
			return err
		}
		p.pushSegment(seg)
		p.lastSegment = seg
	}

	p.currentPos = move.End

	if p.ringLength >= commitThreshold(p.config) {
		return p.Flush()
	}
	return nil
}

// QueueChannelEvent inserts a non-axis event (heater target, fan duty)
// into the motion stream at its current position, so it executes in order
// relative to the moves around it. It is the direct-call counterpart of
// ChannelCommandDone.
func (p *Planner) QueueChannelEvent(evt ChannelEvent) error {
	if p.state == StateAborted {
		return errors.New("planner is aborted")
	}
	if err := p.waitForRingSpace(); err != nil {
		return err
	}
	seg := NewChannelSegment(evt)
	p.pushSegment(seg)
	p.lastSegment = seg
	if p.ringLength >= commitThreshold(p.config) {
		return p.Flush()
	}
	return nil
}

// waitForRingSpace blocks (pumping Flush and the timer engine) while the
// segment ring is at capacity. A full ring is not an error condition: it is
// naturally backpressured the same way the spec treats not invoking the
// pull handler — the caller simply doesn't get to push another segment
// until the committed region drains enough to free room.
func (p *Planner) waitForRingSpace() error {
	for p.ringFull() {
		if p.state == StateAborted {
			return errors.New("planner is aborted")
		}
		if err := p.Flush(); err != nil {
			return err
		}
		if p.ringFull() {
			core.ProcessTimers()
		}
	}
	return nil
}

// AxesCommandDone is the PullHandler response for an axis move pulled from
// an external command source: the external source fills the buffer, then
// calls this to hand it to the planner, exactly as QueueMove does for a
// directly-driven caller.
func (p *Planner) AxesCommandDone(move *standalone.Move) error {
	return p.QueueMove(move)
}

// ChannelCommandDone is the PullHandler response for a non-axis event
// pulled from an external command source.
func (p *Planner) ChannelCommandDone(evt ChannelEvent) error {
	return p.QueueChannelEvent(evt)
}

// EmptyDone is the PullHandler response when the external command source
// has nothing to offer on this pull; the planner's state is left untouched
// and it will be pulled again once more room opens up.
func (p *Planner) EmptyDone() {}

// WaitFinished is the PullHandler response signalling the command source is
// drained for good: it flushes whatever remains buffered and, once the
// machine reaches idle, invokes the finished handler.
func (p *Planner) WaitFinished() error {
	for p.ringLength > 0 {
		before := p.ringLength
		if err := p.Flush(); err != nil {
			return err
		}
		if p.ringLength == before {
			// Nothing could be committed (downstream still full); the
			// caller is expected to keep pumping ProcessTimers and retry.
			break
		}
	}
	if p.IsIdle() && p.finishedHandler != nil {
		p.finishedHandler()
	}
	return nil
}

func (p *Planner) stepFixedBits() uint {
	if p.config.StepFixedBits > 0 {
		return p.config.StepFixedBits
	}
	return 22
}

// commitRoomAvailable reports whether every configured stepper (whether or
// not the next commitCount segments move it) has enough free command-ring
// slots to accept them,
// reserving headroom for the worst case of three phases (accel/cruise/
// decel) per segment per axis, per invariant §8.5 (commit-space implies a
// successful plan).
func (p *Planner) commitRoomAvailable(commitCount int) bool {
	needed := commitCount * 3
	for _, s := range p.steppers {
		if s.QueueFreeSlots() < needed {
			return false
		}
	}
	return true
}

// invokePullHandler calls the registered PullHandler once the ring has
// freed room, guarding against reentrancy (the callback answering via
// AxesCommandDone/ChannelCommandDone runs straight back through QueueMove,
// which may itself call Flush and land here again).
func (p *Planner) invokePullHandler() {
	if p.pullHandler == nil || p.inPullCallback || p.ringFull() {
		return
	}
	p.inPullCallback = true
	defer func() { p.inPullCallback = false }()
	p.pullHandler()
}

// Flush runs the look-ahead passes over the ring's live window and commits
// a leading window of up to LookaheadCommitCount segments to the stepper
// command generators, leaving the remainder (the backup region) in the ring
// to be replanned alongside whatever arrives next. The forward pass
// continues from stagingV2, the velocity^2 the previous commit actually
// left off at, so look-ahead spans commit boundaries instead of assuming a
// full stop between batches. The commit itself is published under a
// critical section that re-samples whether the ISR is still consuming the
// previously committed work (syncing); if it went false, the commit is
// abandoned for this call and the planner falls back to BUFFERING with the
// staging carry reset, since the velocity a stalled ISR actually stopped at
// is no longer known to be stagingV2.
func (p *Planner) Flush() error {
	if p.ringLength == 0 {
		return nil
	}

	commitCount := commitThreshold(p.config)
	if commitCount > p.ringLength {
		commitCount = p.ringLength
	}
	if !p.commitRoomAvailable(commitCount) {
		// Downstream stepper queues are full: naturally backpressured, not
		// an error. Retried on the next Flush once they drain.
		return nil
	}

	startV2 := p.stagingV2
	core.WithCriticalSection(func() {
		if p.syncing && !p.anyStepperActive() {
			p.syncing = false
			startV2 = 0
		}
	})

	segs := p.ringSlice()
	states := backwardPass(segs, 0)
	results := forwardPass(segs, states, startV2)

	var commitErr error
	committed := 0
	var lastExitV2 float64

	core.WithCriticalSection(func() {
		if p.syncing && !p.anyStepperActive() {
			// Went dry again while the passes above were computed: abandon
			// this commit rather than publish stale-velocity commands.
			p.syncing = false
			return
		}

		for i := 0; i < commitCount; i++ {
			seg := segs[i]
			if seg.IsChannel {
				if p.channelHandler != nil {
					p.channelHandler(seg.Channel)
				}
				committed++
				continue
			}
			fr := results[i]
			for name, move := range seg.Axes {
				stepper, ok := p.steppers[name]
				if !ok {
					continue
				}
				cmds := stepgen.GenerateAxisCommands(move.Dir, move.Steps, seg.L, fr.VIn, fr.VOut, fr.VConst, fr.ConstStart, fr.ConstEnd)
				if err := stepper.EnqueueCommands(cmds); err != nil {
					commitErr = err
					return
				}
			}
			lastExitV2 = fr.VOut * fr.VOut
			committed++
		}
		p.syncing = true
	})

	if commitErr != nil {
		p.state = StateAborted
		return commitErr
	}

	if committed == 0 {
		// The underrun check aborted this commit before publishing
		// anything: revert to BUFFERING with the staging carry reset,
		// per invariant 6.
		p.stagingV2 = 0
		p.state = StateBuffering
		return nil
	}

	core.RecordTiming(core.EvtPlannerCommit, 0, core.GetTime(), uint32(committed), 0)

	p.dropFront(committed)
	p.stagingV2 = lastExitV2
	if p.anyStepperActive() {
		p.state = StateStepping
	} else {
		p.state = StateBuffering
	}

	p.invokePullHandler()
	return nil
}

func (p *Planner) anyStepperActive() bool {
	for _, s := range p.steppers {
		if s.IsActive() {
			return true
		}
	}
	return false
}

// GetCurrentPosition returns the current (logical, not-yet-necessarily
// stepped) position.
func (p *Planner) GetCurrentPosition() standalone.Position {
	return p.currentPos
}

// SetPosition sets the current position without motion (used by G92 and
// homing completion).
func (p *Planner) SetPosition(pos standalone.Position) {
	p.currentPos = pos

	positions, err := p.kinematics.CalcPosition(pos)
	if err != nil {
		return
	}

	axisNames := p.kinematics.GetAxisNames()
	for i, name := range axisNames {
		if i >= len(positions) {
			break
		}
		if stepper, ok := p.steppers[name]; ok {
			stepper.SetPosition(positions[i])
		}
	}
}

// ClearQueue discards every uncommitted segment and stops all motion
// immediately.
func (p *Planner) ClearQueue() {
	for i := range p.ring {
		p.ring[i] = nil
	}
	p.ringStart, p.ringLength = 0, 0
	p.lastSegment = nil
	p.stagingV2 = 0
	p.syncing = false
	for _, stepper := range p.steppers {
		stepper.Stop()
	}
	p.state = StateBuffering
}

// Abort halts motion and latches the planner in the ABORTED state until
// ResetAfterAbort is called, per the physical-error taxonomy.
func (p *Planner) Abort() {
	p.ClearQueue()
	p.state = StateAborted
}

// IsAborted reports whether the planner is latched in the ABORTED state.
func (p *Planner) IsAborted() bool {
	return p.state == StateAborted
}

// ResetAfterAbort clears the ABORTED latch so motion can resume.
func (p *Planner) ResetAfterAbort() error {
	if p.state != StateAborted {
		return errors.New("planner is not aborted")
	}
	for _, stepper := range p.steppers {
		stepper.ClearAbort()
	}
	p.state = StateBuffering
	return nil
}

// IsIdle returns true if no segments are queued or executing.
func (p *Planner) IsIdle() bool {
	return p.ringLength == 0 && !p.anyStepperActive()
}

// WaitIdle blocks until all moves are complete.
func (p *Planner) WaitIdle() error {
	// In embedded/ISR-driven context we can't block here; callers poll
	// IsIdle() from their own loop instead.
	return errors.New("WaitIdle not supported in embedded mode")
}

// CountAbortedRemSteps reports, per axis, how many steps were left
// unexecuted at the moment of an abort: the active command's remainder and
// everything still queued on that axis's stepper, plus every axis segment
// still sitting uncommitted in the ring (the commit/backup split means
// those never reached a stepper queue at all).
func (p *Planner) CountAbortedRemSteps() map[string]uint32 {
	rem := make(map[string]uint32, len(p.steppers))
	for name, stepper := range p.steppers {
		rem[name] = stepper.RemainingSteps()
	}
	for i := 0; i < p.ringLength; i++ {
		seg := p.segmentAt(i)
		if seg.IsChannel {
			continue
		}
		for name, move := range seg.Axes {
			rem[name] += move.Steps
		}
	}
	return rem
}

// State returns the planner's current coarse execution state.
func (p *Planner) State() State {
	return p.state
}
