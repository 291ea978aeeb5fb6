package behavior

import "math"

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X float64
	Y float64
}

const (
	minPathSteps   = 12
	maxPathSteps   = 24
	maxPathNoisePx = 8.0
)

// PointerPath returns intermediate pointer positions from `from` to `to`,
// excluding `from` and ending exactly at `to`. Progress follows an ease-in-out
// curve and each point is pushed sideways by noise that vanishes at both ends.
func (p *Profile) PointerPath(from, to Point) []Point {
	dx := to.X - from.X
	dy := to.Y - from.Y
	dist := math.Hypot(dx, dy)

	if dist == 0 {
		return []Point{to}
	}

	if !p.opts.AntiDetection {
		return []Point{to}
	}

	steps := minPathSteps + p.intN(maxPathSteps-minPathSteps+1)

	// Unit normal to the straight line.
	nx, ny := -dy/dist, dx/dist
	amplitude := math.Min(maxPathNoisePx, dist*0.05)

	path := make([]Point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		progress := (1 - math.Cos(math.Pi*t)) / 2

		if i == steps {
			path = append(path, to)
			break
		}

		offset := (p.float()*2 - 1) * amplitude * math.Sin(math.Pi*t)
		path = append(path, Point{
			X: from.X + dx*progress + nx*offset,
			Y: from.Y + dy*progress + ny*offset,
		})
	}

	return path
}

// ClickTarget picks a point inside the box, biased toward its center.
func (p *Profile) ClickTarget(x, y, width, height float64) Point {
	cx, cy := x+width/2, y+height/2
	if !p.opts.AntiDetection {
		return Point{X: cx, Y: cy}
	}

	jx := (p.float()*2 - 1) * width * 0.2
	jy := (p.float()*2 - 1) * height * 0.2

	return Point{X: cx + jx, Y: cy + jy}
}
