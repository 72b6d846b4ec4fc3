package domain

import (
	"fmt"

	"github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"
)

// ShadeCommand is a user-issued shade operation. Every command resolves to a
// bottom rail target position.
type ShadeCommand interface {
	ShadeCommand() string
	TargetPosition() int
	Validate() error
}

type OpenShadeCommand struct{}

func (c OpenShadeCommand) ShadeCommand() string { return "open" }
func (c OpenShadeCommand) TargetPosition() int  { return shadeauto.PositionOpen }
func (c OpenShadeCommand) Validate() error      { return nil }

type CloseShadeCommand struct{}

func (c CloseShadeCommand) ShadeCommand() string { return "close" }
func (c CloseShadeCommand) TargetPosition() int  { return shadeauto.PositionClosed }
func (c CloseShadeCommand) Validate() error      { return nil }

type SetShadePositionCommand struct {
	Position int
}

func (c SetShadePositionCommand) ShadeCommand() string { return "set_position" }
func (c SetShadePositionCommand) TargetPosition() int  { return c.Position }

// Validate rejects out-of-range targets before any request is sent.
func (c SetShadePositionCommand) Validate() error {
	if c.Position < shadeauto.PositionClosed || c.Position > shadeauto.PositionOpen {
		return fmt.Errorf("%w: position %d out of range 0-100", shadeauto.ErrRejected, c.Position)
	}
	return nil
}

// ensure interface compliance
var (
	_ ShadeCommand = (*OpenShadeCommand)(nil)
	_ ShadeCommand = (*CloseShadeCommand)(nil)
	_ ShadeCommand = (*SetShadePositionCommand)(nil)
)
