package simulator

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tphakala/tricam/internal/observation"
)

// Rig geometry.
const (
	RingRadius   = 1.5 // camera distance from the arena centre, metres
	CameraHeight = 0.8
	FieldOfView  = 60.0 // horizontal, degrees
)

var (
	skyColor   = [3]byte{40, 44, 52}
	floorColor = [3]byte{90, 90, 90}
	arenaColor = [3]byte{230, 200, 60}
	cubeColor  = [3]byte{220, 60, 50}
)

// Camera is a pinhole camera looking at the arena centre.
type Camera struct {
	Width, Height int
	Centre        r3.Vec

	rot *mat.Dense // world to camera rotation, rows are right, down, forward
	k   *mat.Dense // intrinsics
}

// NewCamera places a camera on the ring at angleDeg, rendering width×height.
func NewCamera(angleDeg float64, width, height int) *Camera {
	a := angleDeg * math.Pi / 180
	centre := r3.Vec{X: RingRadius * math.Cos(a), Y: RingRadius * math.Sin(a), Z: CameraHeight}
	target := r3.Vec{Z: CubeHalf}

	forward := r3.Unit(r3.Sub(target, centre))
	right := r3.Unit(r3.Cross(forward, r3.Vec{Z: 1}))
	down := r3.Cross(forward, right)

	f := float64(width) / (2 * math.Tan(FieldOfView*math.Pi/360))
	return &Camera{
		Width:  width,
		Height: height,
		Centre: centre,
		rot: mat.NewDense(3, 3, []float64{
			right.X, right.Y, right.Z,
			down.X, down.Y, down.Z,
			forward.X, forward.Y, forward.Z,
		}),
		k: mat.NewDense(3, 3, []float64{
			f, 0, float64(width) / 2,
			0, f, float64(height) / 2,
			0, 0, 1,
		}),
	}
}

// RigCameras returns one camera per rig role.
func RigCameras(width, height int) [observation.NumCameras]*Camera {
	var cams [observation.NumCameras]*Camera
	for i, role := range observation.Roles {
		cams[i] = NewCamera(role.Angle(), width, height)
	}
	return cams
}

// Project maps a world point to pixel coordinates. ok is false for points
// behind the camera.
func (c *Camera) Project(p r3.Vec) (u, v float64, ok bool) {
	d := r3.Sub(p, c.Centre)
	var pc, px mat.VecDense
	pc.MulVec(c.rot, mat.NewVecDense(3, []float64{d.X, d.Y, d.Z}))
	z := pc.AtVec(2)
	if z <= 1e-6 {
		return 0, 0, false
	}
	px.MulVec(c.k, &pc)
	return px.AtVec(0) / z, px.AtVec(1) / z, true
}

// Render draws the world state into a new image with the given channel count.
func (c *Camera) Render(s State, channels int) observation.Image {
	img := observation.NewImage(c.Width, c.Height, channels)
	cv := canvas{img: img}

	cv.fill(skyColor)
	c.drawFloor(&cv)

	// arena boundary
	h := ArenaHalf
	corners := []r3.Vec{{X: -h, Y: -h}, {X: h, Y: -h}, {X: h, Y: h}, {X: -h, Y: h}}
	for i := range corners {
		c.segment(&cv, corners[i], corners[(i+1)%len(corners)], arenaColor)
	}

	verts := cubeVertices(s)
	for _, e := range cubeEdges {
		c.segment(&cv, verts[e[0]], verts[e[1]], cubeColor)
	}
	return img
}

func (c *Camera) drawFloor(cv *canvas) {
	const lines = 5
	h := ArenaHalf
	for i := range lines + 1 {
		t := -h + 2*h*float64(i)/lines
		c.segment(cv, r3.Vec{X: t, Y: -h}, r3.Vec{X: t, Y: h}, floorColor)
		c.segment(cv, r3.Vec{X: -h, Y: t}, r3.Vec{X: h, Y: t}, floorColor)
	}
}

func (c *Camera) segment(cv *canvas, a, b r3.Vec, color [3]byte) {
	u0, v0, ok0 := c.Project(a)
	u1, v1, ok1 := c.Project(b)
	if !ok0 || !ok1 {
		return
	}
	cv.line(int(math.Round(u0)), int(math.Round(v0)), int(math.Round(u1)), int(math.Round(v1)), color)
}

var cubeEdges = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

func cubeVertices(s State) [8]r3.Vec {
	sin, cos := math.Sincos(s.Yaw)
	var v [8]r3.Vec
	i := 0
	for _, z := range []float64{-CubeHalf, CubeHalf} {
		for _, xy := range [4][2]float64{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}} {
			x, y := xy[0]*CubeHalf, xy[1]*CubeHalf
			v[i] = r3.Add(s.Position, r3.Vec{X: x*cos - y*sin, Y: x*sin + y*cos, Z: z})
			i++
		}
	}
	return v
}

// canvas draws into an observation.Image of 1 or 3 channels.
type canvas struct {
	img observation.Image
}

func (cv *canvas) fill(color [3]byte) {
	for y := range cv.img.Height {
		for x := range cv.img.Width {
			cv.set(x, y, color)
		}
	}
}

func (cv *canvas) set(x, y int, color [3]byte) {
	if x < 0 || y < 0 || x >= cv.img.Width || y >= cv.img.Height {
		return
	}
	i := (y*cv.img.Width + x) * cv.img.Channels
	if cv.img.Channels == 1 {
		// ITU-R 601 luma
		cv.img.Pix[i] = byte((299*int(color[0]) + 587*int(color[1]) + 114*int(color[2])) / 1000)
		return
	}
	copy(cv.img.Pix[i:i+3], color[:])
}

// line is Bresenham's algorithm, clipped per pixel.
func (cv *canvas) line(x0, y0, x1, y1 int, color [3]byte) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	// bound the walk for segments projected far off screen
	limit := 4 * (cv.img.Width + cv.img.Height)
	e := dx + dy
	for range limit {
		cv.set(x0, y0, color)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
