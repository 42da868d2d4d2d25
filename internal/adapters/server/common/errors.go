package common

import (
	"errors"
	"fmt"

	"github.com/hylla/bomcat/internal/app"
	"github.com/hylla/bomcat/internal/domain"
)

// ErrorDetail is the transport-neutral description of one failure.
type ErrorDetail struct {
	Code    string
	Hint    string
	Context map[string]any
}

// mapAppError maps app/domain errors into transport-layer error sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, domain.ErrOpenIssuesConflict):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, domain.ErrCycle),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrMaxDepthExceeded),
		errors.Is(err, domain.ErrNodeArchived),
		errors.Is(err, domain.ErrParentWithoutCode),
		errors.Is(err, app.ErrTreeTooLarge):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnprocessable, err))
	case errors.Is(err, app.ErrSequenceExhausted):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidTenantID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidPosition),
		errors.Is(err, domain.ErrInvalidNodeStatus),
		errors.Is(err, domain.ErrInvalidDimension),
		errors.Is(err, domain.ErrInvalidCriticality),
		errors.Is(err, domain.ErrInvalidIssueStatus),
		errors.Is(err, domain.ErrInvalidRAGStatus),
		errors.Is(err, app.ErrInvalidTenant),
		errors.Is(err, app.ErrInvalidView):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}

// DescribeError derives a stable machine code, an optional hint and structured context for err.
func DescribeError(err error) ErrorDetail {
	var (
		cycle      *domain.CycleError
		transition *domain.InvalidTransitionError
		conflict   *domain.OpenIssuesConflictError
		exhausted  *app.SequenceExhaustedError
		missing    *app.ProcessNotFoundError
	)
	switch {
	case err == nil:
		return ErrorDetail{Code: "internal_error"}
	case errors.As(err, &missing):
		return ErrorDetail{Code: "process_not_found", Context: map[string]any{"process_id": missing.ProcessID}}
	case errors.Is(err, ErrNotFound):
		return ErrorDetail{Code: "not_found"}
	case errors.As(err, &conflict):
		return ErrorDetail{
			Code: "open_issues_conflict",
			Hint: "Resolve, defer or close the listed issues before marking the dimension green.",
			Context: map[string]any{
				"dimension":      string(conflict.Dimension),
				"open_issue_ids": conflict.OpenIssueIDs,
			},
		}
	case errors.As(err, &cycle):
		return ErrorDetail{
			Code:    "cycle_detected",
			Context: map[string]any{"node_id": cycle.NodeID, "new_parent_id": cycle.NewParentID},
		}
	case errors.As(err, &transition):
		allowed := make([]string, 0)
		for _, to := range []domain.IssueStatus{
			domain.IssueStatusOpen,
			domain.IssueStatusInProgress,
			domain.IssueStatusResolved,
			domain.IssueStatusDeferred,
			domain.IssueStatusClosed,
		} {
			if domain.CanTransition(transition.From, to) {
				allowed = append(allowed, string(to))
			}
		}
		return ErrorDetail{
			Code:    "invalid_transition",
			Context: map[string]any{"from": string(transition.From), "to": string(transition.To), "allowed": allowed},
		}
	case errors.Is(err, domain.ErrMaxDepthExceeded):
		return ErrorDetail{Code: "max_depth_exceeded", Context: map[string]any{"max_depth_level": domain.MaxDepthLevel}}
	case errors.Is(err, app.ErrTreeTooLarge):
		return ErrorDetail{Code: "tree_too_large"}
	case errors.Is(err, domain.ErrNodeArchived):
		return ErrorDetail{Code: "node_archived"}
	case errors.Is(err, domain.ErrParentWithoutCode):
		return ErrorDetail{Code: "parent_without_code", Hint: "Run codes regenerate for the tenant."}
	case errors.As(err, &exhausted):
		return ErrorDetail{
			Code:    "sequence_exhausted",
			Hint:    "Retry the request.",
			Context: map[string]any{"attempts": exhausted.Attempts},
		}
	case errors.Is(err, ErrInvalidRequest):
		return ErrorDetail{Code: "invalid_request"}
	default:
		return ErrorDetail{Code: "internal_error"}
	}
}
