// Package common contains small value types and helpers shared across the
// engine packages: ids, colors, coordinates, logging, and typed errors.
package common

import "fmt"

// WrongStateError is returned when a GPU pipeline operation is invoked
// outside of the state it requires (e.g. BeforeFrame while Computing).
type WrongStateError struct {
	Msg string
}

func (e *WrongStateError) Error() string { return e.Msg }

// NewWrongStateError builds a WrongStateError with the given message.
func NewWrongStateError(msg string) error {
	return &WrongStateError{Msg: msg}
}

// NoContextError is returned when ComputeFrame is called before any
// PipelineContext has been supplied via BeforeFrame.
type NoContextError struct {
	Msg string
}

func (e *NoContextError) Error() string { return e.Msg }

// NewNoContextError builds a NoContextError with the given message.
func NewNoContextError(msg string) error {
	return &NoContextError{Msg: msg}
}

// TargetDoesNotExistError is returned by add_shader when an animation's
// target id has no entry in the current context's num_leds map.
type TargetDoesNotExistError struct {
	AnimationID string
	TargetID    string
}

func (e *TargetDoesNotExistError) Error() string {
	return fmt.Sprintf("animation %s targets %s, which does not exist", e.AnimationID, e.TargetID)
}

// NewTargetDoesNotExistError builds a TargetDoesNotExistError.
func NewTargetDoesNotExistError(animationID, targetID string) error {
	return &TargetDoesNotExistError{AnimationID: animationID, TargetID: targetID}
}

// ExistsError is returned by registries when a duplicate id is registered.
type ExistsError struct {
	Kind string
	ID   string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("%s already exists with id %s", e.Kind, e.ID)
}

// NewExistsError builds an ExistsError for the given entity kind and id.
func NewExistsError(kind, id string) error {
	return &ExistsError{Kind: kind, ID: id}
}

// DoesNotExistError is returned when an operation references an id that has
// not been registered.
type DoesNotExistError struct {
	Kind string
	ID   string
}

func (e *DoesNotExistError) Error() string {
	return fmt.Sprintf("%s does not exist with id %s", e.Kind, e.ID)
}

// NewDoesNotExistError builds a DoesNotExistError for the given entity kind and id.
func NewDoesNotExistError(kind, id string) error {
	return &DoesNotExistError{Kind: kind, ID: id}
}

// IncorrectDimensionsError is returned when constructing an AuxiliaryDataType
// from raw values whose length does not equal the product of the declared
// dimensions.
type IncorrectDimensionsError struct {
	Expected int
	Got      int
}

func (e *IncorrectDimensionsError) Error() string {
	return fmt.Sprintf("incorrect dimensions: expected %d values, got %d", e.Expected, e.Got)
}

// NewIncorrectDimensionsError builds an IncorrectDimensionsError.
func NewIncorrectDimensionsError(expected, got int) error {
	return &IncorrectDimensionsError{Expected: expected, Got: got}
}

// CycleError is returned when adding a group would introduce a cycle among
// groups.
type CycleError struct {
	GroupID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("adding this reference to group %s would introduce a cycle", e.GroupID)
}

// NewCycleError builds a CycleError for the given group id.
func NewCycleError(groupID string) error {
	return &CycleError{GroupID: groupID}
}
