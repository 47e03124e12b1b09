// Package config loads a machine description from JSON or YAML and
// validates it into the shapes motion/kinematics/homing construct their
// runtime objects from. Adapted from the teacher's
// standalone/config.LoadConfig JSON-with-defaults pattern, extended with
// YAML auto-detection and the rail/extruder consistency checks the core
// pipeline's invariants require.
package config

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"

	"trapcore/errs"
)

// ExtraStepperConfig describes an additional stepper ganged onto a rail
// (e.g. a dual-motor Z axis) sharing the rail's endstop and homing
// parameters but with its own pins and step distance.
type ExtraStepperConfig struct {
	Name       string  `json:"name" yaml:"name"`
	StepPin    string  `json:"step_pin" yaml:"step_pin"`
	DirPin     string  `json:"dir_pin" yaml:"dir_pin"`
	EnablePin  string  `json:"enable_pin,omitempty" yaml:"enable_pin,omitempty"`
	StepsPerMM float64 `json:"steps_per_mm" yaml:"steps_per_mm"`
	InvertDir  bool    `json:"invert_dir,omitempty" yaml:"invert_dir,omitempty"`
}

// RailConfig describes one logical axis: its primary stepper, any extra
// ganged steppers, the endstop it homes against, and homing parameters.
type RailConfig struct {
	Name       string  `json:"name" yaml:"name"`
	StepPin    string  `json:"step_pin" yaml:"step_pin"`
	DirPin     string  `json:"dir_pin" yaml:"dir_pin"`
	EnablePin  string  `json:"enable_pin,omitempty" yaml:"enable_pin,omitempty"`
	StepsPerMM float64 `json:"steps_per_mm" yaml:"steps_per_mm"`
	InvertDir  bool    `json:"invert_dir,omitempty" yaml:"invert_dir,omitempty"`

	ExtraSteppers []ExtraStepperConfig `json:"extra_steppers,omitempty" yaml:"extra_steppers,omitempty"`

	EndstopPin string `json:"endstop_pin" yaml:"endstop_pin"`

	PositionMin       float64 `json:"position_min" yaml:"position_min"`
	PositionMax       float64 `json:"position_max" yaml:"position_max"`
	PositionEndstop   float64 `json:"position_endstop" yaml:"position_endstop"`
	HomingSpeed       float64 `json:"homing_speed" yaml:"homing_speed"`
	SecondHomingSpeed float64 `json:"second_homing_speed" yaml:"second_homing_speed"`
	HomingRetractDist float64 `json:"homing_retract_dist" yaml:"homing_retract_dist"`
	HomingRetractVel  float64 `json:"homing_retract_speed" yaml:"homing_retract_speed"`
	HomingPositiveDir bool    `json:"homing_positive_dir,omitempty" yaml:"homing_positive_dir,omitempty"`
}

// ExtruderConfig describes one extruder's stepper and extrude-only move
// limits.
type ExtruderConfig struct {
	Name       string  `json:"name" yaml:"name"`
	StepPin    string  `json:"step_pin" yaml:"step_pin"`
	DirPin     string  `json:"dir_pin" yaml:"dir_pin"`
	EnablePin  string  `json:"enable_pin,omitempty" yaml:"enable_pin,omitempty"`
	StepsPerMM float64 `json:"steps_per_mm" yaml:"steps_per_mm"`
	InvertDir  bool    `json:"invert_dir,omitempty" yaml:"invert_dir,omitempty"`

	MaxExtrudeOnlyDistance float64 `json:"max_extrude_only_distance" yaml:"max_extrude_only_distance"`
	MaxExtrudeOnlyVelocity float64 `json:"max_extrude_only_velocity" yaml:"max_extrude_only_velocity"`
	MaxExtrudeOnlyAccel    float64 `json:"max_extrude_only_accel" yaml:"max_extrude_only_accel"`
	InstantCornerVelocity  float64 `json:"instantaneous_corner_velocity" yaml:"instantaneous_corner_velocity"`

	// EndstopPin, when set, makes this extruder's stepper homeable via
	// HOME_EXTRUDER/HOME_ACTIVE_EXTRUDER, grounded on extras/extruder_home.py.
	EndstopPin        string  `json:"endstop_pin,omitempty" yaml:"endstop_pin,omitempty"`
	PositionMin       float64 `json:"position_min,omitempty" yaml:"position_min,omitempty"`
	PositionMax       float64 `json:"position_max,omitempty" yaml:"position_max,omitempty"`
	PositionEndstop   float64 `json:"position_endstop,omitempty" yaml:"position_endstop,omitempty"`
	HomingSpeed       float64 `json:"homing_speed,omitempty" yaml:"homing_speed,omitempty"`
	HomingPositiveDir bool    `json:"homing_positive_dir,omitempty" yaml:"homing_positive_dir,omitempty"`
}

// ManualStepperConfig describes one independently jogged stepper, not
// part of any kinematics group, driven by MANUAL_STEPPER and (if
// EndstopPin is set) homeable on its own. Grounded on
// extras/manual_stepper.py's ManualStepper.
type ManualStepperConfig struct {
	StepPin    string  `json:"step_pin" yaml:"step_pin"`
	DirPin     string  `json:"dir_pin" yaml:"dir_pin"`
	EnablePin  string  `json:"enable_pin,omitempty" yaml:"enable_pin,omitempty"`
	StepsPerMM float64 `json:"steps_per_mm" yaml:"steps_per_mm"`
	InvertDir  bool    `json:"invert_dir,omitempty" yaml:"invert_dir,omitempty"`

	EndstopPin        string  `json:"endstop_pin,omitempty" yaml:"endstop_pin,omitempty"`
	PositionMin       float64 `json:"position_min,omitempty" yaml:"position_min,omitempty"`
	PositionMax       float64 `json:"position_max,omitempty" yaml:"position_max,omitempty"`
	PositionEndstop   float64 `json:"position_endstop,omitempty" yaml:"position_endstop,omitempty"`
	Velocity          float64 `json:"velocity,omitempty" yaml:"velocity,omitempty"`
	Accel             float64 `json:"accel,omitempty" yaml:"accel,omitempty"`
	HomingSpeed       float64 `json:"homing_speed,omitempty" yaml:"homing_speed,omitempty"`
	HomingPositiveDir bool    `json:"homing_positive_dir,omitempty" yaml:"homing_positive_dir,omitempty"`
}

// KinematicsConfig selects a kinematics implementation and its rail
// wiring. Rails names an ordered slice into MachineConfig.Rails (tower
// order for delta, axis-letter order for cartesian).
type KinematicsConfig struct {
	Type        string   `json:"type" yaml:"type"` // "cartesian" or "delta"
	Rails       []string `json:"rails" yaml:"rails"`
	ArmLength   float64  `json:"arm_length,omitempty" yaml:"arm_length,omitempty"`
	TowerRadius float64  `json:"tower_radius,omitempty" yaml:"tower_radius,omitempty"`
}

// MCUConfig describes the serial transport to the controller board.
type MCUConfig struct {
	Port string `json:"port" yaml:"port"`
	Baud int    `json:"baud" yaml:"baud"`
}

// MachineConfig is the complete machine description: rails, extruders,
// kinematics wiring, and global motion limits.
type MachineConfig struct {
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	Kinematics     KinematicsConfig               `json:"kinematics" yaml:"kinematics"`
	ABCKinematics  *KinematicsConfig              `json:"abc_kinematics,omitempty" yaml:"abc_kinematics,omitempty"`
	Rails          map[string]RailConfig          `json:"rails" yaml:"rails"`
	Extruders      map[string]ExtruderConfig      `json:"extruders,omitempty" yaml:"extruders,omitempty"`
	ManualSteppers map[string]ManualStepperConfig `json:"manual_steppers,omitempty" yaml:"manual_steppers,omitempty"`
	ActiveExtruder string                         `json:"active_extruder,omitempty" yaml:"active_extruder,omitempty"`

	MaxVelocity          float64 `json:"max_velocity" yaml:"max_velocity"`
	MaxAccel             float64 `json:"max_accel" yaml:"max_accel"`
	MaxAccelToDecel      float64 `json:"max_accel_to_decel,omitempty" yaml:"max_accel_to_decel,omitempty"`
	SquareCornerVelocity float64 `json:"square_corner_velocity" yaml:"square_corner_velocity"`

	MCU MCUConfig `json:"mcu" yaml:"mcu"`
}

// Load parses a machine description, auto-detecting JSON vs YAML by
// content, applies defaults, and validates rail/extruder consistency.
func Load(data []byte) (*MachineConfig, error) {
	var cfg MachineConfig
	trimmed := bytes.TrimSpace(data)
	var err error
	if len(trimmed) > 0 && trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &cfg)
	} else {
		err = yaml.Unmarshal(trimmed, &cfg)
	}
	if err != nil {
		return nil, errs.NewConfig("parse machine config: %v", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in missing configuration values with sensible
// defaults, the same pass shape as the teacher's applyDefaults.
func applyDefaults(cfg *MachineConfig) {
	if cfg.Mode == "" {
		cfg.Mode = "standalone"
	}
	if cfg.Kinematics.Type == "" {
		cfg.Kinematics.Type = "cartesian"
	}
	if cfg.MaxVelocity == 0 {
		cfg.MaxVelocity = 300.0
	}
	if cfg.MaxAccel == 0 {
		cfg.MaxAccel = 3000.0
	}
	if cfg.MaxAccelToDecel == 0 {
		cfg.MaxAccelToDecel = cfg.MaxAccel * 0.5
	}
	if cfg.SquareCornerVelocity == 0 {
		cfg.SquareCornerVelocity = 5.0
	}

	for name, r := range cfg.Rails {
		if r.HomingSpeed == 0 {
			r.HomingSpeed = 5.0
		}
		if r.SecondHomingSpeed == 0 {
			r.SecondHomingSpeed = r.HomingSpeed / 2
		}
		if r.HomingRetractVel == 0 {
			r.HomingRetractVel = r.HomingSpeed
		}
		cfg.Rails[name] = r
	}

	for name, e := range cfg.Extruders {
		if e.MaxExtrudeOnlyDistance == 0 {
			e.MaxExtrudeOnlyDistance = 50.0
		}
		if e.MaxExtrudeOnlyVelocity == 0 {
			e.MaxExtrudeOnlyVelocity = cfg.MaxVelocity
		}
		if e.MaxExtrudeOnlyAccel == 0 {
			e.MaxExtrudeOnlyAccel = cfg.MaxAccel
		}
		if e.EndstopPin != "" && e.HomingSpeed == 0 {
			e.HomingSpeed = 5.0
		}
		cfg.Extruders[name] = e
	}

	for name, m := range cfg.ManualSteppers {
		if m.Velocity == 0 {
			m.Velocity = 5.0
		}
		if m.EndstopPin != "" && m.HomingSpeed == 0 {
			m.HomingSpeed = m.Velocity
		}
		if m.PositionMax == 0 && m.PositionMin == 0 {
			m.PositionMax = 1e9 // unbounded jog range unless configured
		}
		cfg.ManualSteppers[name] = m
	}
}

// validate checks the invariants the motion/kinematics packages assume:
// each rail's position_min <= position_endstop <= position_max, and that
// a kinematics block's rail references actually exist.
func validate(cfg *MachineConfig) error {
	for name, r := range cfg.Rails {
		if !(r.PositionMin <= r.PositionEndstop && r.PositionEndstop <= r.PositionMax) {
			return errs.NewConfig("rail %s: position_endstop %.3f out of [position_min %.3f, position_max %.3f]",
				name, r.PositionEndstop, r.PositionMin, r.PositionMax)
		}
	}
	if err := validateKinematicsRails(cfg, &cfg.Kinematics, "kinematics"); err != nil {
		return err
	}
	if cfg.ABCKinematics != nil {
		if err := validateKinematicsRails(cfg, cfg.ABCKinematics, "abc_kinematics"); err != nil {
			return err
		}
	}
	if cfg.ActiveExtruder != "" {
		if _, ok := cfg.Extruders[cfg.ActiveExtruder]; !ok {
			return errs.NewConfig("active_extruder %q not found in extruders", cfg.ActiveExtruder)
		}
	}
	for name, e := range cfg.Extruders {
		if e.EndstopPin == "" {
			continue
		}
		if !(e.PositionMin <= e.PositionEndstop && e.PositionEndstop <= e.PositionMax) {
			return errs.NewConfig("extruder %s: position_endstop %.3f out of [position_min %.3f, position_max %.3f]",
				name, e.PositionEndstop, e.PositionMin, e.PositionMax)
		}
	}
	for name, m := range cfg.ManualSteppers {
		if m.EndstopPin == "" {
			continue
		}
		if !(m.PositionMin <= m.PositionEndstop && m.PositionEndstop <= m.PositionMax) {
			return errs.NewConfig("manual_stepper %s: position_endstop %.3f out of [position_min %.3f, position_max %.3f]",
				name, m.PositionEndstop, m.PositionMin, m.PositionMax)
		}
	}
	return nil
}

func validateKinematicsRails(cfg *MachineConfig, kc *KinematicsConfig, field string) error {
	for _, railName := range kc.Rails {
		if _, ok := cfg.Rails[railName]; !ok {
			return errs.NewConfig("%s references unknown rail %q", field, railName)
		}
	}
	if kc.Type == "delta" && len(kc.Rails) != 3 {
		return errs.NewConfig("%s: delta kinematics needs exactly 3 rails, got %d", field, len(kc.Rails))
	}
	return nil
}
