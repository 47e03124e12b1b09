package main

import (
	"fmt"
	"hash/fnv"
	"sort"

	"trapcore/config"
	"trapcore/events"
	"trapcore/gcode"
	"trapcore/homing"
	"trapcore/host/mcu"
	"trapcore/kinematics"
	"trapcore/motion"
)

// clockHz is the logical MCU clock frequency this host assumes, matching
// the microsecond-resolution conversion Toolhead uses internally for its
// own step generation. Endstop sample/rest times are expressed in real
// seconds and converted through the same factor so a stepper's queued
// clocks and an endstop's armed clock stay on one timeline.
const clockHz = 1e6

func clockOf(pt motion.PrintTime) int64   { return int64(float64(pt) * clockHz) }
func timeOf(clock int64) motion.PrintTime { return motion.PrintTime(float64(clock) / clockHz) }

// machine is the assembled object graph a command operates against:
// toolhead, homing controller, and the G-code dispatcher's rail
// bindings, built from a config.MachineConfig over one MCU link.
type machine struct {
	cfg       *config.MachineConfig
	mcuConn   *mcu.MCU
	toolhead  *motion.Toolhead
	homingCtl *homing.HomingController
	dispatch  *gcode.Dispatcher
	rails     map[string]*motion.Rail
}

// pinID hashes a symbolic pin name (e.g. "PA0") into the numeric MCU pin
// identifier config_stepper's wire shape expects. This host never talks
// to real firmware pin enumeration, so a stable hash is the simplest
// substitute that still gives every configured pin a distinct id.
func pinID(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}

// buildMachine constructs every Rail/Stepper/Extruder/Kinematics/
// Toolhead/HomingController the config describes, issuing config_stepper
// for each stepper over mcuConn and wiring its StepCompress to
// mcuConn.SendStep.
func buildMachine(cfg *config.MachineConfig, mcuConn *mcu.MCU, bus *events.Bus) (*machine, error) {
	oid := 0
	nextOID := func() int { id := oid; oid++; return id }

	rails := make(map[string]*motion.Rail, len(cfg.Rails))
	endstops := make(map[string][]homing.EndstopGroup, len(cfg.Rails))

	buildStepper := func(name, stepPin, dirPin string, stepsPerMM float64, invertDir bool, axis int, letter byte) (*motion.Stepper, error) {
		o := nextOID()
		if err := mcuConn.ConfigStepper(o, pinID(stepPin), pinID(dirPin), invertDir, 2); err != nil {
			return nil, fmt.Errorf("config_stepper %s: %w", name, err)
		}
		compress := motion.NewStepCompress(o, mcuConn.SendStep)
		kin := motion.NewCartesianAxisKinematics(axis, letter)
		return motion.NewStepper(name, 1.0/stepsPerMM, invertDir, kin, compress), nil
	}

	buildRail := func(name string, rc config.RailConfig, axis int, letter byte) (*motion.Rail, error) {
		rail, err := motion.NewRail(motion.RailParams{
			PositionMin:     rc.PositionMin,
			PositionMax:     rc.PositionMax,
			PositionEndstop: rc.PositionEndstop,
			Homing: motion.HomingInfo{
				Speed:             rc.HomingSpeed,
				SecondHomingSpeed: rc.SecondHomingSpeed,
				RetractDist:       rc.HomingRetractDist,
				RetractSpeed:      rc.HomingRetractVel,
				PositiveDir:       rc.HomingPositiveDir,
				PositionEndstop:   rc.PositionEndstop,
			},
		})
		if err != nil {
			return nil, err
		}
		s, err := buildStepper(name, rc.StepPin, rc.DirPin, rc.StepsPerMM, rc.InvertDir, axis, letter)
		if err != nil {
			return nil, err
		}
		rail.AddStepper(s)
		for i, extra := range rc.ExtraSteppers {
			es, err := buildStepper(fmt.Sprintf("%s-extra%d", name, i), extra.StepPin, extra.DirPin, extra.StepsPerMM, extra.InvertDir, axis, letter)
			if err != nil {
				return nil, err
			}
			rail.AddStepper(es)
		}

		es := homing.NewEndstop(s.OID(), name, mcuConn, clockHz, clockOf, timeOf)
		endstops[name] = append(endstops[name], homing.EndstopGroup{Endstop: es, Steppers: rail.Steppers()})

		return rail, nil
	}

	buildGroup := func(kc config.KinematicsConfig, axisOffset int, letters []string) (motion.Kinematics, error) {
		groupRails := make([]*motion.Rail, 0, len(kc.Rails))
		for i, railName := range kc.Rails {
			rc, ok := cfg.Rails[railName]
			if !ok {
				return nil, fmt.Errorf("kinematics references unknown rail %q", railName)
			}
			letter := byte('x' + i)
			if i < len(letters) {
				letter = letters[i][0]
			}
			rail, err := buildRail(railName, rc, i, letter)
			if err != nil {
				return nil, err
			}
			rails[railName] = rail
			groupRails = append(groupRails, rail)
		}
		switch kc.Type {
		case "delta":
			return kinematics.NewDelta(kinematics.DeltaParams{
				ArmLength:   kc.ArmLength,
				TowerRadius: kc.TowerRadius,
				MaxVelocity: cfg.MaxVelocity,
				MaxAccel:    cfg.MaxAccel,
				Rails:       groupRails,
			})
		default:
			return kinematics.NewCartesian(kinematics.CartesianParams{
				Letters:     letters,
				AxisOffset:  axisOffset,
				MaxVelocity: cfg.MaxVelocity,
				MaxAccel:    cfg.MaxAccel,
				Rails:       groupRails,
			})
		}
	}

	kinGroups := make(map[string]motion.Kinematics)
	order := []string{"xyz"}
	xyz, err := buildGroup(cfg.Kinematics, 0, []string{"x", "y", "z"})
	if err != nil {
		return nil, err
	}
	kinGroups["xyz"] = xyz
	axisCount := 3

	if cfg.ABCKinematics != nil {
		abc, err := buildGroup(*cfg.ABCKinematics, 3, []string{"a", "b", "c"})
		if err != nil {
			return nil, err
		}
		kinGroups["abc"] = abc
		order = append(order, "abc")
		axisCount = 6
	}

	// Each MANUAL_STEPPER gets its own single-rail kinematics group tacked
	// onto the end of the position vector, mirroring how extras/
	// manual_stepper.py registers an independent PrinterRail outside the
	// toolhead's main kinematics.
	manualSteppers := make(map[string]gcode.ManualStepperBinding, len(cfg.ManualSteppers))
	manualNames := make([]string, 0, len(cfg.ManualSteppers))
	for name := range cfg.ManualSteppers {
		manualNames = append(manualNames, name)
	}
	sort.Strings(manualNames)
	for _, name := range manualNames {
		mc := cfg.ManualSteppers[name]
		groupName := "manual_" + name
		rc := config.RailConfig{
			StepPin:    mc.StepPin,
			DirPin:     mc.DirPin,
			StepsPerMM: mc.StepsPerMM,
			InvertDir:  mc.InvertDir,

			PositionMin:       mc.PositionMin,
			PositionMax:       mc.PositionMax,
			PositionEndstop:   mc.PositionEndstop,
			HomingSpeed:       mc.HomingSpeed,
			HomingPositiveDir: mc.HomingPositiveDir,
		}
		rail, err := buildRail(name, rc, 0, 'u')
		if err != nil {
			return nil, fmt.Errorf("manual stepper %s: %w", name, err)
		}
		rails[name] = rail
		kin, err := kinematics.NewCartesian(kinematics.CartesianParams{
			Letters:     []string{"u"},
			AxisOffset:  axisCount,
			MaxVelocity: cfg.MaxVelocity,
			MaxAccel:    cfg.MaxAccel,
			Rails:       []*motion.Rail{rail},
		})
		if err != nil {
			return nil, fmt.Errorf("manual stepper %s kinematics: %w", name, err)
		}
		kinGroups[groupName] = kin
		order = append(order, groupName)

		binding := gcode.ManualStepperBinding{
			Rail:      rail,
			AxisIndex: axisCount,
			Velocity:  mc.Velocity,
			Accel:     mc.Accel,
		}
		if mc.EndstopPin != "" {
			binding.Endstops = endstops[name]
		}
		manualSteppers[name] = binding
		axisCount++
	}

	extruders := make(map[string]*motion.Extruder, len(cfg.Extruders))
	extruderHoming := make(map[string]gcode.ExtruderHomingBinding, len(cfg.Extruders))
	for name, ec := range cfg.Extruders {
		o := nextOID()
		if err := mcuConn.ConfigStepper(o, pinID(ec.StepPin), pinID(ec.DirPin), ec.InvertDir, 2); err != nil {
			return nil, fmt.Errorf("config_stepper extruder %s: %w", name, err)
		}
		compress := motion.NewStepCompress(o, mcuConn.SendStep)
		kin := motion.NewCartesianAxisKinematics(0, 'e')
		s := motion.NewStepper(name, 1.0/ec.StepsPerMM, ec.InvertDir, kin, compress)
		e := motion.NewExtruder(name, s, motion.ExtruderParams{
			Slot:                   axisCount,
			MaxExtrudeOnlyDistance: ec.MaxExtrudeOnlyDistance,
			MaxExtrudeOnlyVelocity: ec.MaxExtrudeOnlyVelocity,
			MaxExtrudeOnlyAccel:    ec.MaxExtrudeOnlyAccel,
			InstantCornerV:         ec.InstantCornerVelocity,
		})
		e.SetCanExtrude(true)
		s.SetTrapq(e.Trapq())
		extruders[name] = e

		if ec.EndstopPin != "" {
			es := homing.NewEndstop(s.OID(), name, mcuConn, clockHz, clockOf, timeOf)
			extruderHoming[name] = gcode.ExtruderHomingBinding{
				Endstop:         homing.EndstopGroup{Endstop: es, Steppers: []*motion.Stepper{s}},
				Speed:           ec.HomingSpeed,
				PositionMin:     ec.PositionMin,
				PositionMax:     ec.PositionMax,
				PositionEndstop: ec.PositionEndstop,
				PositiveDir:     ec.HomingPositiveDir,
			}
		}
	}

	for _, k := range kinGroups {
		for _, r := range k.Rails() {
			for _, s := range r.Steppers() {
				s.SetTrapq(k.Trapq())
			}
		}
	}

	flushMCU := func(uptoTime motion.PrintTime) error {
		clock := clockOf(uptoTime)
		for _, k := range kinGroups {
			for _, r := range k.Rails() {
				for _, s := range r.Steppers() {
					if err := s.Flush(clock); err != nil {
						return err
					}
				}
			}
		}
		for _, e := range extruders {
			if err := e.Stepper().Flush(clock); err != nil {
				return err
			}
		}
		return nil
	}

	toolhead := motion.NewToolhead(motion.ToolheadParams{
		Kinematics:           kinGroups,
		KinematicOrder:       order,
		Extruders:            extruders,
		ActiveExtruder:       cfg.ActiveExtruder,
		AxisCount:            axisCount,
		MaxVelocity:          cfg.MaxVelocity,
		MaxAccel:             cfg.MaxAccel,
		MaxAccelToDecel:      cfg.MaxAccelToDecel,
		SquareCornerVelocity: cfg.SquareCornerVelocity,
		FlushMCU:             flushMCU,
		EstPrintTime:         func() motion.PrintTime { return timeOf(0) },
		Bus:                  bus,
	})

	homingCtl := homing.NewHomingController(toolhead, bus, clockOf, mcuConn)

	letterForRail := func(railName string) byte {
		for i, n := range cfg.Kinematics.Rails {
			if n == railName {
				return byte('X' + i)
			}
		}
		if cfg.ABCKinematics != nil {
			for i, n := range cfg.ABCKinematics.Rails {
				if n == railName {
					return byte('A' + i)
				}
			}
		}
		return 0
	}

	dispatchRails := make(map[byte]gcode.RailBinding, len(rails))
	for name, rail := range rails {
		letter := letterForRail(name)
		if letter == 0 {
			continue
		}
		dispatchRails[letter] = gcode.RailBinding{Rail: rail, Endstops: endstops[name]}
	}

	return &machine{
		cfg:       cfg,
		mcuConn:   mcuConn,
		toolhead:  toolhead,
		homingCtl: homingCtl,
		dispatch:  gcode.NewDispatcher(toolhead, homingCtl, dispatchRails, manualSteppers, extruderHoming),
		rails:     rails,
	}, nil
}
