package protocol

// This file encodes/decodes the motion-pipeline wire commands the core
// spec's External Interfaces table lists (config_stepper, reset_step_clock,
// queue_step, set_next_step_dir, stepper_get_position/stepper_position,
// endstop_home), mined from the teacher's MCU-side core/stepper_commands.go
// and core/endstop.go for their wire shape and reimplemented here as
// plain VLQ encoders/decoders the host side calls through
// HostTransport.SendCommand, instead of the firmware-side command
// handlers those files define.

// EncodeConfigStepper writes the one-time config_stepper payload: oid,
// step_pin, dir_pin, invert_step, step_pulse_ticks.
func EncodeConfigStepper(out OutputBuffer, oid int, stepPin, dirPin uint32, invertStep bool, stepPulseTicks uint32) {
	EncodeVLQUint(out, uint32(oid))
	EncodeVLQUint(out, stepPin)
	EncodeVLQUint(out, dirPin)
	invert := uint32(0)
	if invertStep {
		invert = 1
	}
	EncodeVLQUint(out, invert)
	EncodeVLQUint(out, stepPulseTicks)
}

// EncodeResetStepClock writes reset_step_clock: oid, clock.
func EncodeResetStepClock(out OutputBuffer, oid int, clock int64) {
	EncodeVLQUint(out, uint32(oid))
	EncodeVLQUint(out, uint32(clock))
}

// EncodeQueueStep writes queue_step: oid, interval, count, add — a
// run-length-compressed sequence of `count` step pulses starting
// `interval` clock ticks apart, each subsequent interval adjusted by
// `add`. This is StepCompress's wire-level output.
func EncodeQueueStep(out OutputBuffer, oid int, interval uint32, count uint32, add int32) {
	EncodeVLQUint(out, uint32(oid))
	EncodeVLQUint(out, interval)
	EncodeVLQUint(out, count)
	EncodeVLQInt(out, add)
}

// EncodeSetNextStepDir writes set_next_step_dir: oid, dir (0 or 1).
func EncodeSetNextStepDir(out OutputBuffer, oid int, dir int64) {
	EncodeVLQUint(out, uint32(oid))
	d := uint32(0)
	if dir > 0 {
		d = 1
	}
	EncodeVLQUint(out, d)
}

// EncodeStepperGetPosition writes stepper_get_position: oid.
func EncodeStepperGetPosition(out OutputBuffer, oid int) {
	EncodeVLQUint(out, uint32(oid))
}

// StepperPositionResponse is the decoded stepper_position oid pos
// response to stepper_get_position.
type StepperPositionResponse struct {
	OID      int
	Position int64
}

// DecodeStepperPosition decodes a stepper_position response payload
// (after the leading command-ID VLQ has already been stripped by the
// transport layer).
func DecodeStepperPosition(data *[]byte) (StepperPositionResponse, error) {
	oid, err := DecodeVLQUint(data)
	if err != nil {
		return StepperPositionResponse{}, err
	}
	pos, err := DecodeVLQInt(data)
	if err != nil {
		return StepperPositionResponse{}, err
	}
	return StepperPositionResponse{OID: int(oid), Position: int64(pos)}, nil
}

// EncodeEndstopHome writes endstop_home: oid, clock, sample_ticks,
// sample_count, rest_ticks, pin_value (the triggered level to watch for).
func EncodeEndstopHome(out OutputBuffer, oid int, clock int64, sampleTicks int64, sampleCount int, restTicks int64, pinValue bool) {
	EncodeVLQUint(out, uint32(oid))
	EncodeVLQUint(out, uint32(clock))
	EncodeVLQUint(out, uint32(sampleTicks))
	EncodeVLQUint(out, uint32(sampleCount))
	EncodeVLQUint(out, uint32(restTicks))
	pv := uint32(0)
	if pinValue {
		pv = 1
	}
	EncodeVLQUint(out, pv)
}

// EndstopTriggerResponse is the decoded response to endstop_home: either
// the clock at which the pin matched pinValue, or a communication
// failure for the caller to classify.
type EndstopTriggerResponse struct {
	OID    int
	Clock  int64
	Pin    bool
	Homing bool
}

// DecodeEndstopTrigger decodes an endstop_state response payload.
func DecodeEndstopTrigger(data *[]byte) (EndstopTriggerResponse, error) {
	oid, err := DecodeVLQUint(data)
	if err != nil {
		return EndstopTriggerResponse{}, err
	}
	clock, err := DecodeVLQUint(data)
	if err != nil {
		return EndstopTriggerResponse{}, err
	}
	pin, err := DecodeVLQUint(data)
	if err != nil {
		return EndstopTriggerResponse{}, err
	}
	homing, err := DecodeVLQUint(data)
	if err != nil {
		return EndstopTriggerResponse{}, err
	}
	return EndstopTriggerResponse{
		OID:    int(oid),
		Clock:  int64(clock),
		Pin:    pin != 0,
		Homing: homing != 0,
	}, nil
}

// EncodeEndstopQuery writes endstop_query_state: oid.
func EncodeEndstopQuery(out OutputBuffer, oid int) {
	EncodeVLQUint(out, uint32(oid))
}
