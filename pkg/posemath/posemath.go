// Package posemath converts native device poses to the wire transform layout
// and back.
//
// Wire convention: row-major 3x4, +y up, +x right, -z forward, meters.
// Composition is translation * rotation, so rotation applies first.
package posemath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
)

// Vec3 is a native 3-vector.
type Vec3 struct {
	X, Y, Z float32
}

// Quaternion is a native orientation.
type Quaternion struct {
	X, Y, Z, W float32
}

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternion{W: 1}

// Pose is a native position plus orientation.
type Pose struct {
	Orientation Quaternion
	Position    Vec3
}

// SensorState is one native pose sample. Velocities are in the runtime's
// native units and pass through MillimetersToMeters on the way out.
type SensorState struct {
	Pose            Pose
	LinearVelocity  Vec3
	AngularVelocity Vec3
	// Status is the runtime tracking status; > 0 means tracked.
	Status int32
}

// Tracked reports whether the runtime is tracking the sensor.
func (s SensorState) Tracked() bool {
	return s.Status > 0
}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: float64(q.W), Imag: float64(q.X), Jmag: float64(q.Y), Kmag: float64(q.Z)}
}

func fromNumber(n quat.Number) Quaternion {
	return Quaternion{X: float32(n.Imag), Y: float32(n.Jmag), Z: float32(n.Kmag), W: float32(n.Real)}
}

// Normalize returns q scaled to unit length. A zero quaternion becomes the
// identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.number()
	abs := quat.Abs(n)
	if abs == 0 {
		return IdentityQuaternion
	}
	return fromNumber(quat.Scale(1/abs, n))
}

// Mul returns the Hamilton product q*r.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return fromNumber(quat.Mul(q.number(), r.number()))
}

// Rotate applies q to v.
func (q Quaternion) Rotate(v Vec3) Vec3 {
	n := q.number()
	p := quat.Number{Imag: float64(v.X), Jmag: float64(v.Y), Kmag: float64(v.Z)}
	r := quat.Mul(quat.Mul(n, p), quat.Conj(n))
	return Vec3{X: float32(r.Imag), Y: float32(r.Jmag), Z: float32(r.Kmag)}
}

// AxisAngle builds a unit quaternion rotating rad radians about axis.
func AxisAngle(axis Vec3, rad float64) Quaternion {
	l := math.Sqrt(float64(axis.X*axis.X + axis.Y*axis.Y + axis.Z*axis.Z))
	if l == 0 {
		return IdentityQuaternion
	}
	s := math.Sin(rad/2) / l
	return Quaternion{
		X: float32(float64(axis.X) * s),
		Y: float32(float64(axis.Y) * s),
		Z: float32(float64(axis.Z) * s),
		W: float32(math.Cos(rad / 2)),
	}
}

// Matrix4 is a row-major homogeneous transform.
type Matrix4 [4][4]float32

// Identity4 returns the identity transform.
func Identity4() Matrix4 {
	return Matrix4{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
}

// Multiply returns a*b.
func Multiply(a, b Matrix4) Matrix4 {
	var out Matrix4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j] + a[i][2]*b[2][j] + a[i][3]*b[3][j]
		}
	}
	return out
}

// FromQuaternion returns the rotation matrix for q. The columns are the
// images of the basis vectors under q.
func FromQuaternion(q Quaternion) Matrix4 {
	q = q.Normalize()
	m := Identity4()
	for j, e := range [3]Vec3{{X: 1}, {Y: 1}, {Z: 1}} {
		c := q.Rotate(e)
		m[0][j] = c.X
		m[1][j] = c.Y
		m[2][j] = c.Z
	}
	return m
}

// Translation4 returns a homogeneous translation.
func Translation4(v Vec3) Matrix4 {
	m := Identity4()
	m[0][3] = v.X
	m[1][3] = v.Y
	m[2][3] = v.Z
	return m
}

// RotationX returns a rotation of rad radians about +x.
func RotationX(rad float32) Matrix4 {
	s := float32(math.Sin(float64(rad)))
	c := float32(math.Cos(float64(rad)))
	return Matrix4{{1, 0, 0, 0}, {0, c, -s, 0}, {0, s, c, 0}, {0, 0, 0, 1}}
}

// To34 drops the homogeneous row.
func (m Matrix4) To34() cxr.Matrix34 {
	var out cxr.Matrix34
	for i := 0; i < 3; i++ {
		out.M[i] = m[i]
	}
	return out
}

// TransformFromPose returns translation * rotation for p.
func TransformFromPose(p Pose) Matrix4 {
	return Multiply(Translation4(p.Position), FromQuaternion(p.Orientation))
}

// ToWireTransform converts a native pose to the wire layout.
func ToWireTransform(p Pose) cxr.Matrix34 {
	return TransformFromPose(p).To34()
}

// QuaternionFromTransform extracts the rotation of m. The branch taken
// depends on the trace first, then on the largest diagonal term; the result
// is not normalized beyond what the input rotation provides.
func QuaternionFromTransform(m cxr.Matrix34) Quaternion {
	var q Quaternion
	r := &m.M
	trace := r[0][0] + r[1][1] + r[2][2]

	switch {
	case trace > 0:
		s := 0.5 / sqrtf(trace+1)
		q.W = 0.25 / s
		q.X = (r[2][1] - r[1][2]) * s
		q.Y = (r[0][2] - r[2][0]) * s
		q.Z = (r[1][0] - r[0][1]) * s
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := 2 * sqrtf(1+r[0][0]-r[1][1]-r[2][2])
		q.W = (r[2][1] - r[1][2]) / s
		q.X = 0.25 * s
		q.Y = (r[0][1] + r[1][0]) / s
		q.Z = (r[0][2] + r[2][0]) / s
	case r[1][1] > r[2][2]:
		s := 2 * sqrtf(1+r[1][1]-r[0][0]-r[2][2])
		q.W = (r[0][2] - r[2][0]) / s
		q.X = (r[0][1] + r[1][0]) / s
		q.Y = 0.25 * s
		q.Z = (r[1][2] + r[2][1]) / s
	default:
		s := 2 * sqrtf(1+r[2][2]-r[0][0]-r[1][1])
		q.W = (r[1][0] - r[0][1]) / s
		q.X = (r[0][2] + r[2][0]) / s
		q.Y = (r[1][2] + r[2][1]) / s
		q.Z = 0.25 * s
	}
	return q
}

func sqrtf(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// Translation returns the translation column of m.
func Translation(m cxr.Matrix34) cxr.Vector3 {
	return cxr.Vector3{V: [3]float32{m.M[0][3], m.M[1][3], m.M[2][3]}}
}

// MillimetersToMeters is the only place native millimeter quantities are
// scaled into wire meters.
func MillimetersToMeters(v Vec3) cxr.Vector3 {
	return cxr.Vector3{V: [3]float32{v.X / 1000, v.Y / 1000, v.Z / 1000}}
}

// ConvertPose builds a wire pose from a sensor sample. A non-zero rotationX
// tilts the device about its local x axis after the native rotation.
func ConvertPose(s SensorState, rotationX float32) cxr.TrackedDevicePose {
	transform := TransformFromPose(s.Pose)
	if rotationX != 0 {
		transform = Multiply(transform, RotationX(rotationX))
	}

	tracked := s.Tracked()
	result := cxr.TrackingUninitialized
	if tracked {
		result = cxr.TrackingRunningOK
	}
	return cxr.TrackedDevicePose{
		DeviceToAbsoluteTracking: transform.To34(),
		Velocity:                 MillimetersToMeters(s.LinearVelocity),
		AngularVelocity:          MillimetersToMeters(s.AngularVelocity),
		TrackingResult:           result,
		PoseIsValid:              tracked,
		DeviceIsConnected:        tracked,
	}
}

// RigidTolerance is the determinant tolerance used by IsRigid.
const RigidTolerance = 0.01

// IsRigid reports whether the rotation block of m is a proper rotation.
func IsRigid(m cxr.Matrix34) bool {
	r := &m.M
	det := r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
	return math.Abs(float64(det)-1) <= RigidTolerance
}

// HeadPose splits a returned frame pose into orientation and position. A
// rotation block that is not rigid, such as an unset all-zero pose, yields
// IdentityQuaternion.
func HeadPose(m cxr.Matrix34) (Quaternion, Vec3) {
	t := Translation(m)
	q := IdentityQuaternion
	if IsRigid(m) {
		q = QuaternionFromTransform(m)
	}
	return q, Vec3{X: t.V[0], Y: t.V[1], Z: t.V[2]}
}
