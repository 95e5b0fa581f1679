package posemath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
)

const tol = 1e-4

func assertSameRotation(t *testing.T, want, got Quaternion) {
	t.Helper()
	dot := want.X*got.X + want.Y*got.Y + want.Z*got.Z + want.W*got.W
	if dot < 0 {
		got = Quaternion{X: -got.X, Y: -got.Y, Z: -got.Z, W: -got.W}
	}
	assert.InDelta(t, want.X, got.X, tol, "x")
	assert.InDelta(t, want.Y, got.Y, tol, "y")
	assert.InDelta(t, want.Z, got.Z, tol, "z")
	assert.InDelta(t, want.W, got.W, tol, "w")
}

func TestQuaternionRoundTrip_Branches(t *testing.T) {
	deg := math.Pi / 180
	tests := []struct {
		name string
		q    Quaternion
		// checks which diagonal term drives extraction
		check func(m cxr.Matrix34) bool
	}{
		{
			name: "positive trace",
			q:    AxisAngle(Vec3{X: 1, Y: 2, Z: 3}, 40*deg),
			check: func(m cxr.Matrix34) bool {
				return m.M[0][0]+m.M[1][1]+m.M[2][2] > 0
			},
		},
		{
			name: "m00 largest",
			q:    AxisAngle(Vec3{X: 1, Y: 0.1}, 160*deg),
			check: func(m cxr.Matrix34) bool {
				return m.M[0][0]+m.M[1][1]+m.M[2][2] <= 0 && m.M[0][0] > m.M[1][1] && m.M[0][0] > m.M[2][2]
			},
		},
		{
			name: "m11 largest",
			q:    AxisAngle(Vec3{Y: 1, Z: 0.1}, 170*deg),
			check: func(m cxr.Matrix34) bool {
				return m.M[0][0]+m.M[1][1]+m.M[2][2] <= 0 && m.M[1][1] >= m.M[0][0] && m.M[1][1] > m.M[2][2]
			},
		},
		{
			name: "m22 largest",
			q:    AxisAngle(Vec3{X: 0.1, Z: 1}, 175*deg),
			check: func(m cxr.Matrix34) bool {
				return m.M[0][0]+m.M[1][1]+m.M[2][2] <= 0 && m.M[2][2] >= m.M[0][0] && m.M[2][2] >= m.M[1][1]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Pose{Orientation: tt.q, Position: Vec3{X: 0.3, Y: 1.7, Z: -2}}
			m := ToWireTransform(p)
			require.True(t, tt.check(m), "pose does not exercise the intended branch: %v", m.M)
			assertSameRotation(t, tt.q, QuaternionFromTransform(m))
		})
	}
}

func TestToWireTransform_TranslationAfterRotation(t *testing.T) {
	p := Pose{
		Orientation: AxisAngle(Vec3{Y: 1}, math.Pi/2),
		Position:    Vec3{X: 1, Y: 2, Z: 3},
	}
	m := ToWireTransform(p)

	tr := Translation(m)
	assert.Equal(t, [3]float32{1, 2, 3}, tr.V)

	// 90 degrees about +y maps +x onto -z.
	assert.InDelta(t, 0, m.M[0][0], tol)
	assert.InDelta(t, -1, m.M[2][0], tol)
	assert.True(t, IsRigid(m))
}

func TestToWireTransform_Identity(t *testing.T) {
	m := ToWireTransform(Pose{Orientation: IdentityQuaternion})
	assert.Equal(t, cxr.Identity34(), m)
}

func TestMillimetersToMeters(t *testing.T) {
	v := MillimetersToMeters(Vec3{X: 1000, Y: -250, Z: 1})
	assert.InDelta(t, 1, v.V[0], 1e-7)
	assert.InDelta(t, -0.25, v.V[1], 1e-7)
	assert.InDelta(t, 0.001, v.V[2], 1e-7)
}

func TestConvertPose(t *testing.T) {
	s := SensorState{
		Pose:            Pose{Orientation: IdentityQuaternion, Position: Vec3{Y: 1.7}},
		LinearVelocity:  Vec3{X: 500},
		AngularVelocity: Vec3{Z: 2000},
		Status:          1,
	}

	got := ConvertPose(s, 0)
	assert.True(t, got.PoseIsValid)
	assert.True(t, got.DeviceIsConnected)
	assert.Equal(t, cxr.TrackingRunningOK, got.TrackingResult)
	assert.InDelta(t, 0.5, got.Velocity.V[0], 1e-6)
	assert.InDelta(t, 2, got.AngularVelocity.V[2], 1e-6)
	assert.InDelta(t, 1.7, got.DeviceToAbsoluteTracking.M[1][3], 1e-6)

	s.Status = 0
	assert.False(t, ConvertPose(s, 0).PoseIsValid)
}

func TestConvertPose_RotationXTilt(t *testing.T) {
	s := SensorState{Pose: Pose{Orientation: IdentityQuaternion}, Status: 1}

	got := ConvertPose(s, 0.45)
	q := QuaternionFromTransform(got.DeviceToAbsoluteTracking)
	assertSameRotation(t, AxisAngle(Vec3{X: 1}, 0.45), q)
}

func TestHeadPose(t *testing.T) {
	want := AxisAngle(Vec3{X: 0.2, Y: 1}, 0.7)
	m := ToWireTransform(Pose{Orientation: want, Position: Vec3{X: -1, Z: 4}})

	q, pos := HeadPose(m)
	assertSameRotation(t, want, q)
	assert.Equal(t, Vec3{X: -1, Z: 4}, pos)
}

func TestQuaternion_NormalizeZero(t *testing.T) {
	assert.Equal(t, IdentityQuaternion, Quaternion{}.Normalize())
	n := Quaternion{W: 2}.Normalize()
	assert.InDelta(t, 1, n.W, 1e-7)
}

func TestIsRigid_RejectsScale(t *testing.T) {
	m := cxr.Identity34()
	m.M[0][0] = 2
	assert.False(t, IsRigid(m))
}

func TestHeadPose_NonRigidFallsBackToIdentity(t *testing.T) {
	var zero cxr.Matrix34
	zero.M[0][3], zero.M[1][3], zero.M[2][3] = 0.5, 1.7, -1

	q, p := HeadPose(zero)

	assert.Equal(t, IdentityQuaternion, q)
	assert.Equal(t, Vec3{X: 0.5, Y: 1.7, Z: -1}, p)
}
