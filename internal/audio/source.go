package audio

// Source is a capture device or transport that pushes fixed-size frames to a
// delivery callback from its own capture context. Start fails if the
// underlying device or connection is unavailable; the detector surfaces that
// to the caller and stays stopped.
type Source interface {
	Start(deliver func(Frame)) error
	Stop() error
}
