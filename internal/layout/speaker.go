package layout

// Speaker reserves index 0 as a large speaker tile and arranges the
// remaining visibles as viewers: a single side panel for exactly two
// visibles, or a right-hand column (wrapping into a bottom row beyond four
// viewers) for three or more. Transliterated from speaker.rs.
type Speaker struct {
	resolution Size
	visibles   int
}

const viewerScale = 4

func NewSpeaker() *Speaker { return &Speaker{} }

func (s *Speaker) SetResolution(res Size) { s.resolution = res }
func (s *Speaker) SetVisibleCount(n int)  { s.visibles = n }

func (s *Speaker) StreamView(streamPosition int) (View, bool) {
	if streamPosition >= s.visibles || streamPosition < 0 {
		return View{}, false
	}
	if streamPosition == 0 {
		return View{Pos: s.speakerPosition(), Size: s.speakerSize()}, true
	}
	return View{Pos: s.viewersPosition(streamPosition - 1), Size: s.viewersSize()}, true
}

func (s *Speaker) ratio() float64 {
	return float64(s.resolution.Width) / float64(s.resolution.Height)
}

func (s *Speaker) viewersWidth() int {
	switch {
	case s.visibles <= 1:
		return 0
	case s.visibles == 2:
		return s.resolution.Width / 2
	default:
		return s.resolution.Width / viewerScale
	}
}

func (s *Speaker) viewersHeight() int {
	return int(float64(s.viewersWidth()) / s.ratio())
}

func (s *Speaker) speakerHeight() int {
	return s.resolution.Height - s.viewersHeight()
}

func (s *Speaker) speakerWidth() int {
	return int(float64(s.speakerHeight()) * s.ratio())
}

func (s *Speaker) speakerSize() Size {
	return Size{Width: s.speakerWidth(), Height: s.speakerHeight()}
}

func (s *Speaker) speakerPosition() Position {
	if s.visibles == 2 {
		return Position{X: 0, Y: s.resolution.Height / 4}
	}
	return Position{X: 0, Y: 0}
}

func (s *Speaker) viewersSize() Size {
	if s.visibles == 1 {
		return Size{Width: s.resolution.Width / 2, Height: s.resolution.Height / 2}
	}
	return Size{Width: s.viewersWidth(), Height: s.viewersHeight()}
}

func (s *Speaker) viewersPosition(idx int) Position {
	switch {
	case s.visibles <= 1:
		return Position{X: 0, Y: 0}
	case s.visibles == 2:
		return Position{X: s.resolution.Width / 2, Y: s.resolution.Height / 4}
	default:
		if idx < viewerScale {
			return Position{
				X: s.speakerWidth(),
				Y: s.viewersHeight() * idx,
			}
		}
		const horizontalIndexOffset = 1
		horizontalIndex := idx - viewerScale + horizontalIndexOffset
		horizontalOffset := s.viewersWidth() * horizontalIndex
		return Position{
			X: s.speakerWidth() - horizontalOffset,
			Y: s.speakerHeight(),
		}
	}
}
