package switchdriver

import (
	"context"
	"fmt"

	"github.com/nergy-se/smartheater/pkg/state"
	"github.com/sirupsen/logrus"
)

// Output drives the physical relay line high or low.
type Output interface {
	Write(ctx context.Context, high bool) error
	Close() error
}

type Driver interface {
	SetState(ctx context.Context, s state.State) error
}

// Switch maps the heater state onto an output, honouring relay polarity.
type Switch struct {
	out             Output
	reversePolarity bool
}

func New(out Output, reversePolarity bool) *Switch {
	return &Switch{
		out:             out,
		reversePolarity: reversePolarity,
	}
}

func (s *Switch) SetState(ctx context.Context, st state.State) error {
	level := st.Level(s.reversePolarity)
	logrus.WithFields(logrus.Fields{"state": st, "high": level}).Debug("switchdriver: setting output")
	if err := s.out.Write(ctx, level); err != nil {
		return fmt.Errorf("error switching %s: %w", st, err)
	}
	return nil
}

func (s *Switch) Close() error {
	return s.out.Close()
}
