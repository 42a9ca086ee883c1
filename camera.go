package cedartoy

import "github.com/go-gl/mathgl/mgl32"

var (
	defaultCameraDir = mgl32.Vec3{0, 0, -1}
	defaultCameraUp  = mgl32.Vec3{0, 1, 0}
)

// EyePose is the camera frame bound to iCameraPos, iCameraDir and iCameraUp.
type EyePose struct {
	Pos mgl32.Vec3
	Dir mgl32.Vec3
	Up  mgl32.Vec3
}

// Pose returns the camera frame for eye. The left and right eyes are moved
// by half the interpupillary distance along the camera's right vector,
// dir × up.
func (c Camera) Pose(eye Eye) EyePose {
	p := EyePose{
		Pos: mgl32.Vec3(c.Position),
		Dir: mgl32.Vec3(c.Direction),
		Up:  mgl32.Vec3(c.Up),
	}
	if p.Dir.Len() == 0 {
		p.Dir = defaultCameraDir
	}
	if p.Up.Len() == 0 {
		p.Up = defaultCameraUp
	}
	if eye == EyeCenter || eye == "" {
		return p
	}

	right := p.Dir.Normalize().Cross(p.Up)
	if right.Len() == 0 {
		return p
	}
	shift := right.Normalize().Mul(float32(c.IPD * 0.5))
	if eye == EyeLeft {
		p.Pos = p.Pos.Sub(shift)
	} else {
		p.Pos = p.Pos.Add(shift)
	}
	return p
}
