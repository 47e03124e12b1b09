package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trapcore/events"
)

// stubKinematics is a minimal Kinematics good enough to drive Toolhead
// through Move/SetPosition without a real cartesian/delta solver.
type stubKinematics struct {
	trapq *Trapq
	rails []*Rail
}

func (s *stubKinematics) Trapq() *Trapq                                      { return s.trapq }
func (s *stubKinematics) Rails() []*Rail                                     { return s.rails }
func (s *stubKinematics) AxisNames() []string                                { return []string{"x"} }
func (s *stubKinematics) CheckMove(m *Move) error                            { return nil }
func (s *stubKinematics) SetPosition(pos []float64, homingAxes map[int]bool) {}
func (s *stubKinematics) CalcPosition(kinSpos map[string]float64) []float64  { return []float64{0} }

func newTestToolhead(t *testing.T) *Toolhead {
	t.Helper()
	rail, err := NewRail(RailParams{PositionMin: 0, PositionMax: 200, PositionEndstop: 0})
	require.NoError(t, err)
	compress := NewStepCompress(1, func(int, int64, int64) error { return nil })
	kin := NewCartesianAxisKinematics(0, 'x')
	stepper := NewStepper("x", 0.01, false, kin, compress)
	rail.AddStepper(stepper)

	sk := &stubKinematics{trapq: NewTrapq(), rails: []*Rail{rail}}
	stepper.SetTrapq(sk.trapq)

	return NewToolhead(ToolheadParams{
		Kinematics:           map[string]Kinematics{"xyz": sk},
		KinematicOrder:       []string{"xyz"},
		AxisCount:            1,
		MaxVelocity:          300,
		MaxAccel:             3000,
		SquareCornerVelocity: 5,
		EstPrintTime:         func() PrintTime { return 0 },
		Bus:                  events.New(),
	})
}

func TestToolheadMoveUpdatesCommandedPosition(t *testing.T) {
	th := newTestToolhead(t)
	require.NoError(t, th.Move([]float64{50, 0}, 100))
	assert.InDelta(t, 50, th.GetPosition()[0], 1e-9)
}

func TestToolheadSetPositionTeleports(t *testing.T) {
	th := newTestToolhead(t)
	require.NoError(t, th.SetPosition([]float64{30, 0}, nil))
	assert.InDelta(t, 30, th.GetPosition()[0], 1e-9)
}

func TestToolheadStartsInFlushedState(t *testing.T) {
	th := newTestToolhead(t)
	assert.Equal(t, Flushed, th.state)
}

func TestJunctionDeviationDerivedFromSquareCornerVelocity(t *testing.T) {
	th := newTestToolhead(t)
	jd := th.JunctionDeviation()
	assert.Greater(t, jd, 0.0)
}
