package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
kinematics:
  type: cartesian
  rails: [x, y, z]
max_velocity: 300
square_corner_velocity: 5
rails:
  x:
    step_pin: PA0
    dir_pin: PA1
    steps_per_mm: 80
    endstop_pin: PA2
    position_min: 0
    position_max: 200
    position_endstop: 0
  y:
    step_pin: PA3
    dir_pin: PA4
    steps_per_mm: 80
    endstop_pin: PA5
    position_min: 0
    position_max: 200
    position_endstop: 0
  z:
    step_pin: PA6
    dir_pin: PA7
    steps_per_mm: 400
    endstop_pin: PA8
    position_min: -2
    position_max: 250
    position_endstop: 0
`

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Load([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "standalone", cfg.Mode)
	assert.Greater(t, cfg.MaxAccel, 0.0)
	assert.Greater(t, cfg.Rails["x"].HomingSpeed, 0.0)
}

func TestLoadJSONAutoDetected(t *testing.T) {
	data := []byte(`{
		"kinematics": {"type": "cartesian", "rails": ["x"]},
		"max_velocity": 300,
		"square_corner_velocity": 5,
		"rails": {
			"x": {"step_pin": "PA0", "dir_pin": "PA1", "steps_per_mm": 80,
			       "endstop_pin": "PA2", "position_min": 0, "position_max": 200,
			       "position_endstop": 0}
		}
	}`)
	cfg, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, 80.0, cfg.Rails["x"].StepsPerMM)
}

func TestLoadRejectsEndstopOutsideRange(t *testing.T) {
	data := []byte(`
kinematics: {type: cartesian, rails: [x]}
max_velocity: 300
square_corner_velocity: 5
rails:
  x:
    step_pin: PA0
    dir_pin: PA1
    steps_per_mm: 80
    endstop_pin: PA2
    position_min: 0
    position_max: 200
    position_endstop: 999
`)
	_, err := Load([]byte(data))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownKinematicsRail(t *testing.T) {
	data := []byte(`
kinematics: {type: cartesian, rails: [x, bogus]}
max_velocity: 300
square_corner_velocity: 5
rails:
  x:
    step_pin: PA0
    dir_pin: PA1
    steps_per_mm: 80
    endstop_pin: PA2
    position_min: 0
    position_max: 200
    position_endstop: 0
`)
	_, err := Load(data)
	assert.Error(t, err)
}

func TestLoadRejectsDeltaWithoutThreeRails(t *testing.T) {
	data := []byte(`
kinematics: {type: delta, rails: [x, y]}
max_velocity: 300
square_corner_velocity: 5
rails:
  x: {step_pin: PA0, dir_pin: PA1, steps_per_mm: 80, endstop_pin: PA2, position_min: 0, position_max: 400, position_endstop: 400}
  y: {step_pin: PA3, dir_pin: PA4, steps_per_mm: 80, endstop_pin: PA5, position_min: 0, position_max: 400, position_endstop: 400}
`)
	_, err := Load(data)
	assert.Error(t, err)
}
