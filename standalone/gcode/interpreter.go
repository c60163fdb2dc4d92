package gcode

import (
	"errors"

	"apcore/standalone"
)

// Interpreter executes G-code commands
type Interpreter struct {
	state    *standalone.MachineState
	config   *standalone.MachineConfig
	planner  Planner // Interface to motion planner
	aux      Aux     // Interface to heater/fan control
	report   func(string)
}

// Planner interface for motion planning
type Planner interface {
	QueueMove(move *standalone.Move) error
	GetCurrentPosition() standalone.Position
	SetPosition(pos standalone.Position)
	ClearQueue()
	HomeAxis(name string) error
}

// Aux is the interpreter's view of the heater/fan controller, satisfied by
// standalone/aux.Controller.
type Aux interface {
	SetHeaterTarget(name string, target float64) error
	WaitHeater(name string, report func(current, target float64)) error
	HeaterNames() []string
	HeaterCurrent(name string) (float64, bool)
	HeaterTarget(name string) (float64, bool)
	SetFanDuty(name string, duty float64) error
	ExtrusionAllowed() bool
	SetExtrusionOverride(allow bool)
	DumpDebug()
	ClearFaults()
}

// NewInterpreter creates a new G-code interpreter
func NewInterpreter(config *standalone.MachineConfig, planner Planner, auxController Aux) *Interpreter {
	return &Interpreter{
		state: &standalone.MachineState{
			Position:     standalone.Position{},
			Homed:        [4]bool{false, false, false, false},
			AbsoluteMode: true,
			FeedRate:     config.DefaultVelocity,
			ExtrudeMode:  false, // Absolute extrusion by default (M83 selects relative)
			Temperature:  make(map[string]float64),
			TargetTemp:   make(map[string]float64),
		},
		config:  config,
		planner: planner,
		aux:     auxController,
	}
}

// SetResponseWriter registers the callback used to send M105/M114/M921
// textual replies back to the command source.
func (interp *Interpreter) SetResponseWriter(report func(string)) {
	interp.report = report
}

func (interp *Interpreter) respond(s string) {
	if interp.report != nil {
		interp.report(s)
	}
}

// Execute executes a parsed G-code command
func (interp *Interpreter) Execute(cmd *standalone.GCodeCommand) error {
	if cmd == nil {
		return nil
	}

	switch cmd.Type {
	case 'G':
		return interp.executeG(cmd)
	case 'M':
		return interp.executeM(cmd)
	case 'T':
		return interp.executeT(cmd)
	}

	return nil
}

// executeG handles G-codes
func (interp *Interpreter) executeG(cmd *standalone.GCodeCommand) error {
	switch cmd.Number {
	case 0, 1: // G0/G1 - Linear move
		return interp.doMove(cmd)
	case 28: // G28 - Home
		return interp.doHome(cmd)
	case 90: // G90 - Absolute positioning
		interp.state.AbsoluteMode = true
	case 91: // G91 - Relative positioning
		interp.state.AbsoluteMode = false
	case 92: // G92 - Set position
		return interp.doSetPosition(cmd)
	}

	return nil
}

// executeM handles M-codes
func (interp *Interpreter) executeM(cmd *standalone.GCodeCommand) error {
	switch cmd.Number {
	case 82: // M82 - Absolute extrusion
		interp.state.ExtrudeMode = false
	case 83: // M83 - Relative extrusion
		interp.state.ExtrudeMode = true
	case 104: // M104 - Set extruder temperature
		return interp.setHeaterTarget("extruder", cmd, false)
	case 109: // M109 - Set extruder temperature and wait
		return interp.setHeaterTarget("extruder", cmd, true)
	case 140: // M140 - Set bed temperature
		return interp.setHeaterTarget("bed", cmd, false)
	case 190: // M190 - Set bed temperature and wait
		return interp.setHeaterTarget("bed", cmd, true)
	case 141: // M141 - Set chamber temperature
		return interp.setHeaterTarget("chamber", cmd, false)
	case 191: // M191 - Set chamber temperature and wait
		return interp.setHeaterTarget("chamber", cmd, true)
	case 106: // M106 - Fan on
		duty := cmd.GetParameter('S', 255) / 255.0
		return interp.aux.SetFanDuty("fan0", duty)
	case 107: // M107 - Fan off
		return interp.aux.SetFanDuty("fan0", 0)
	case 114: // M114 - Report current position
		pos := interp.planner.GetCurrentPosition()
		interp.respond("X:" + standalone.FormatFloat(pos.X, 2) +
			" Y:" + standalone.FormatFloat(pos.Y, 2) +
			" Z:" + standalone.FormatFloat(pos.Z, 2) +
			" E:" + standalone.FormatFloat(pos.E, 2) + "\n")
	case 105: // M105 - Report temperatures
		interp.respond(interp.temperatureReport())
	case 116: // M116 - Wait for all heaters to reach target
		for _, name := range interp.aux.HeaterNames() {
			if err := interp.aux.WaitHeater(name, interp.reportWaitTemp); err != nil {
				return err
			}
		}
	case 302: // M302 - Cold-extrusion interlock override
		allow := !cmd.HasParameter('S') || cmd.GetParameter('S', 0) != 0
		interp.aux.SetExtrusionOverride(allow)
	case 921: // M921 - Dump aux/debug ADC state
		interp.aux.DumpDebug()
	case 922: // M922 - Clear latched heater faults
		interp.aux.ClearFaults()
	}

	return nil
}

// setHeaterTarget implements M104/M109/M140/M190/M141/M191: set a heater's
// target and, when wait is true, block until it is reached.
func (interp *Interpreter) setHeaterTarget(name string, cmd *standalone.GCodeCommand, wait bool) error {
	if !cmd.HasParameter('S') {
		return nil
	}
	temp := cmd.GetParameter('S', 0)
	interp.state.TargetTemp[name] = temp
	if err := interp.aux.SetHeaterTarget(name, temp); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	return interp.aux.WaitHeater(name, interp.reportWaitTemp)
}

func (interp *Interpreter) reportWaitTemp(current, target float64) {
	interp.respond("T:" + standalone.FormatFloat(current, 1) +
		" /" + standalone.FormatFloat(target, 1) + "\n")
}

// temperatureReport builds an M105-style "T:cur /target B:cur /target" line.
func (interp *Interpreter) temperatureReport() string {
	out := ""
	for _, name := range interp.aux.HeaterNames() {
		cur, _ := interp.aux.HeaterCurrent(name)
		target, _ := interp.aux.HeaterTarget(name)
		label := "T"
		if name == "bed" {
			label = "B"
		} else if name != "extruder" {
			label = name
		}
		out += label + ":" + standalone.FormatFloat(cur, 1) + " /" + standalone.FormatFloat(target, 1) + " "
	}
	return out + "\n"
}

// executeT handles the bare "Tn" tool-change command. This machine exposes a
// single "extruder" heater channel rather than per-tool ones (M104/M109
// always address that channel and do not read a T parameter), so there is no
// tool state to switch here; accepted and ignored, like an unconfigured M-code.
func (interp *Interpreter) executeT(cmd *standalone.GCodeCommand) error {
	return nil
}

// doMove executes a linear move (G0/G1)
func (interp *Interpreter) doMove(cmd *standalone.GCodeCommand) error {
	// Get current position
	current := interp.planner.GetCurrentPosition()
	target := current

	// Update feedrate if specified
	if cmd.HasParameter('F') {
		interp.state.FeedRate = cmd.GetParameter('F', 0) / 60.0 // Convert mm/min to mm/s
	}

	// Calculate target position
	if interp.state.AbsoluteMode {
		// Absolute positioning
		if cmd.HasParameter('X') {
			target.X = cmd.GetParameter('X', current.X)
		}
		if cmd.HasParameter('Y') {
			target.Y = cmd.GetParameter('Y', current.Y)
		}
		if cmd.HasParameter('Z') {
			target.Z = cmd.GetParameter('Z', current.Z)
		}
	} else {
		// Relative positioning
		if cmd.HasParameter('X') {
			target.X = current.X + cmd.GetParameter('X', 0)
		}
		if cmd.HasParameter('Y') {
			target.Y = current.Y + cmd.GetParameter('Y', 0)
		}
		if cmd.HasParameter('Z') {
			target.Z = current.Z + cmd.GetParameter('Z', 0)
		}
	}

	// Handle extruder
	if cmd.HasParameter('E') {
		if interp.state.ExtrudeMode {
			// Relative extrusion
			target.E = current.E + cmd.GetParameter('E', 0)
		} else {
			// Absolute extrusion
			target.E = cmd.GetParameter('E', current.E)
		}

		if target.E != current.E && interp.aux != nil && !interp.aux.ExtrusionAllowed() {
			return errors.New("extrusion below minimum temperature")
		}
	}

	// Calculate distance
	dx := target.X - current.X
	dy := target.Y - current.Y
	dz := target.Z - current.Z
	de := target.E - current.E
	distance := sqrt(dx*dx + dy*dy + dz*dz)

	// Skip if no movement
	if distance < 0.001 && abs(de) < 0.001 {
		return nil
	}

	// Create move
	move := &standalone.Move{
		Start:    current,
		End:      target,
		Velocity: interp.state.FeedRate,
		Accel:    interp.config.DefaultAccel,
		Distance: distance,
	}

	// Queue move
	return interp.planner.QueueMove(move)
}

// doHome executes homing (G28): it drives each requested axis toward its
// configured endstop and only marks it homed once the endstop actually
// trips, rather than assuming the move always reaches it.
func (interp *Interpreter) doHome(cmd *standalone.GCodeCommand) error {
	all := !cmd.HasParameter('X') && !cmd.HasParameter('Y') && !cmd.HasParameter('Z')

	homeX := all || cmd.HasParameter('X')
	homeY := all || cmd.HasParameter('Y')
	homeZ := all || cmd.HasParameter('Z')

	if homeX {
		if err := interp.planner.HomeAxis("x"); err != nil {
			return err
		}
		interp.state.Homed[0] = true
	}
	if homeY {
		if err := interp.planner.HomeAxis("y"); err != nil {
			return err
		}
		interp.state.Homed[1] = true
	}
	if homeZ {
		if err := interp.planner.HomeAxis("z"); err != nil {
			return err
		}
		interp.state.Homed[2] = true
	}

	return nil
}

// doSetPosition sets the current position (G92)
func (interp *Interpreter) doSetPosition(cmd *standalone.GCodeCommand) error {
	current := interp.planner.GetCurrentPosition()

	if cmd.HasParameter('X') {
		current.X = cmd.GetParameter('X', 0)
	}
	if cmd.HasParameter('Y') {
		current.Y = cmd.GetParameter('Y', 0)
	}
	if cmd.HasParameter('Z') {
		current.Z = cmd.GetParameter('Z', 0)
	}
	if cmd.HasParameter('E') {
		current.E = cmd.GetParameter('E', 0)
	}

	interp.planner.SetPosition(current)
	return nil
}

// GetState returns the current machine state
func (interp *Interpreter) GetState() *standalone.MachineState {
	return interp.state
}

// Simple math functions (to avoid importing math for embedded)
func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	// Newton's method for square root
	z := x
	for i := 0; i < 10; i++ {
		z = z - (z*z-x)/(2*z)
	}
	return z
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
