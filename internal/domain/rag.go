package domain

import (
	"slices"
	"strings"
)

// RAGStatus represents one red/amber/green/neutral health signal.
type RAGStatus string

// RAGStatus values.
const (
	RAGRed     RAGStatus = "red"
	RAGAmber   RAGStatus = "amber"
	RAGGreen   RAGStatus = "green"
	RAGNeutral RAGStatus = "neutral"
)

// validRAGStatuses stores all supported status values.
var validRAGStatuses = []RAGStatus{RAGRed, RAGAmber, RAGGreen, RAGNeutral}

// NormalizeRAGStatus canonicalizes a RAG status value.
func NormalizeRAGStatus(status RAGStatus) RAGStatus {
	return RAGStatus(strings.TrimSpace(strings.ToLower(string(status))))
}

// IsValidRAGStatus reports whether status is supported.
func IsValidRAGStatus(status RAGStatus) bool {
	return slices.Contains(validRAGStatuses, NormalizeRAGStatus(status))
}

// Dimension identifies one independent axis of process health.
type Dimension string

// Dimension values.
const (
	DimensionPeople  Dimension = "people"
	DimensionProcess Dimension = "process"
	DimensionSystem  Dimension = "system"
	DimensionData    Dimension = "data"
)

// Dimensions lists every dimension in canonical order.
var Dimensions = []Dimension{DimensionPeople, DimensionProcess, DimensionSystem, DimensionData}

// NormalizeDimension canonicalizes a dimension value.
func NormalizeDimension(dim Dimension) Dimension {
	return Dimension(strings.TrimSpace(strings.ToLower(string(dim))))
}

// IsValidDimension reports whether dim is supported.
func IsValidDimension(dim Dimension) bool {
	return slices.Contains(Dimensions, NormalizeDimension(dim))
}

// RAGState holds the four persisted dimension statuses of a process node.
type RAGState struct {
	People  RAGStatus
	Process RAGStatus
	System  RAGStatus
	Data    RAGStatus
}

// NeutralRAGState returns a state with every dimension neutral.
func NeutralRAGState() RAGState {
	return RAGState{People: RAGNeutral, Process: RAGNeutral, System: RAGNeutral, Data: RAGNeutral}
}

// Get returns the status for one dimension.
func (r RAGState) Get(dim Dimension) RAGStatus {
	switch NormalizeDimension(dim) {
	case DimensionPeople:
		return r.People
	case DimensionProcess:
		return r.Process
	case DimensionSystem:
		return r.System
	case DimensionData:
		return r.Data
	default:
		return RAGNeutral
	}
}

// Set stores the status for one dimension.
func (r *RAGState) Set(dim Dimension, status RAGStatus) error {
	status = NormalizeRAGStatus(status)
	if !IsValidRAGStatus(status) {
		return ErrInvalidRAGStatus
	}
	switch NormalizeDimension(dim) {
	case DimensionPeople:
		r.People = status
	case DimensionProcess:
		r.Process = status
	case DimensionSystem:
		r.System = status
	case DimensionData:
		r.Data = status
	default:
		return ErrInvalidDimension
	}
	return nil
}

// Overall derives the node-level status from the four dimensions.
func (r RAGState) Overall() RAGStatus {
	return OverallOf(r.People, r.Process, r.System, r.Data)
}

// OverallOf returns red if any input is red, amber if any is amber, green only when all are green, and neutral otherwise.
func OverallOf(statuses ...RAGStatus) RAGStatus {
	if len(statuses) == 0 {
		return RAGNeutral
	}
	allGreen := true
	sawAmber := false
	for _, status := range statuses {
		switch NormalizeRAGStatus(status) {
		case RAGRed:
			return RAGRed
		case RAGAmber:
			sawAmber = true
			allGreen = false
		case RAGGreen:
		default:
			allGreen = false
		}
	}
	if sawAmber {
		return RAGAmber
	}
	if allGreen {
		return RAGGreen
	}
	return RAGNeutral
}
