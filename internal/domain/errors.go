package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidID          = errors.New("invalid id")
	ErrInvalidTenantID    = errors.New("invalid tenant id")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidTitle       = errors.New("invalid title")
	ErrInvalidPosition    = errors.New("invalid position")
	ErrInvalidNodeStatus  = errors.New("invalid node status")
	ErrInvalidDimension   = errors.New("invalid dimension")
	ErrInvalidCriticality = errors.New("invalid criticality")
	ErrInvalidIssueStatus = errors.New("invalid issue status")
	ErrInvalidRAGStatus   = errors.New("invalid rag status")
	ErrParentWithoutCode  = errors.New("parent has no code")
	ErrMaxDepthExceeded   = errors.New("max depth exceeded")
	ErrNodeArchived       = errors.New("process node is archived")
	ErrCycle              = errors.New("cycle detected")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrOpenIssuesConflict = errors.New("open issues conflict")
)

// CycleError reports a reparent that would place a node under itself or one of its descendants.
type CycleError struct {
	NodeID      string
	NewParentID string
}

// Error returns the error message.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s cannot move under %s", e.NodeID, e.NewParentID)
}

// Unwrap returns ErrCycle.
func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// InvalidTransitionError reports a rejected issue status transition.
type InvalidTransitionError struct {
	From IssueStatus
	To   IssueStatus
}

// Error returns the error message.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// OpenIssuesConflictError reports an explicit green assessment blocked by open issues.
type OpenIssuesConflictError struct {
	Dimension    Dimension
	OpenIssueIDs []string
}

// Error returns the error message.
func (e *OpenIssuesConflictError) Error() string {
	return fmt.Sprintf("open issues conflict: %s has %d open issue(s): %s", e.Dimension, len(e.OpenIssueIDs), strings.Join(e.OpenIssueIDs, ", "))
}

// Unwrap returns ErrOpenIssuesConflict.
func (e *OpenIssuesConflictError) Unwrap() error {
	return ErrOpenIssuesConflict
}
