package smoothing

import "github.com/charmbracelet/harmonica"

// springField drives one damped spring per band toward its target.
type springField struct {
	spring harmonica.Spring
	pos    []float64
	vel    []float64
}

// newSpringField steps each spring by 1/rate seconds.
func newSpringField(rate, frequency, damping float64) springField {
	return springField{spring: harmonica.NewSpring(1/rate, frequency, damping)}
}

func (s *springField) resize(n int) {
	if len(s.pos) == n {
		return
	}
	s.pos = make([]float64, n)
	s.vel = make([]float64, n)
}

func (s *springField) step(i int, target float64) float64 {
	p, v := s.spring.Update(s.pos[i], s.vel[i], target)
	if p < 0 {
		p, v = 0, 0
	}
	s.pos[i] = p
	s.vel[i] = v
	return p
}

func (s *springField) reset() {
	clear(s.pos)
	clear(s.vel)
}
