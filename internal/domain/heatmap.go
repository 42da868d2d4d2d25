package domain

// HeatmapView selects the heatmap projection.
type HeatmapView string

// HeatmapView values.
const (
	HeatmapViewDirect HeatmapView = "direct"
	HeatmapViewRollup HeatmapView = "rollup"
)

// IssueCounts counts open issues split by criticality.
type IssueCounts struct {
	Total  int
	High   int
	Medium int
	Low    int
}

// Add counts one open issue of the given criticality.
func (c *IssueCounts) Add(criticality Criticality) {
	c.Total++
	switch criticality {
	case CriticalityHigh:
		c.High++
	case CriticalityMedium:
		c.Medium++
	default:
		c.Low++
	}
}

// Merge folds other into c.
func (c *IssueCounts) Merge(other IssueCounts) {
	c.Total += other.Total
	c.High += other.High
	c.Medium += other.Medium
	c.Low += other.Low
}

// Colour classifies live counts: red with any high issue, amber with any issue, neutral otherwise.
func (c IssueCounts) Colour() RAGStatus {
	switch {
	case c.High > 0:
		return RAGRed
	case c.Total > 0:
		return RAGAmber
	default:
		return RAGNeutral
	}
}

// DimensionCounts holds IssueCounts for each dimension.
type DimensionCounts struct {
	People  IssueCounts
	Process IssueCounts
	System  IssueCounts
	Data    IssueCounts
}

// For returns a pointer to the counts of one dimension.
func (d *DimensionCounts) For(dim Dimension) *IssueCounts {
	switch dim {
	case DimensionPeople:
		return &d.People
	case DimensionProcess:
		return &d.Process
	case DimensionSystem:
		return &d.System
	default:
		return &d.Data
	}
}

// Merge folds other into d.
func (d *DimensionCounts) Merge(other DimensionCounts) {
	d.People.Merge(other.People)
	d.Process.Merge(other.Process)
	d.System.Merge(other.System)
	d.Data.Merge(other.Data)
}

// Total returns the open-issue count across every dimension.
func (d DimensionCounts) Total() int {
	return d.People.Total + d.Process.Total + d.System.Total + d.Data.Total
}

// HeatmapCell represents one process node in a heatmap projection.
type HeatmapCell struct {
	ProcessID     string
	ParentID      string
	Code          string
	Name          string
	DepthLevel    int
	Counts        DimensionCounts
	PeopleColour  RAGStatus
	ProcessColour RAGStatus
	SystemColour  RAGStatus
	DataColour    RAGStatus
	OverallColour RAGStatus
}

// NewHeatmapCell classifies counts for one node.
func NewHeatmapCell(node ProcessNode, counts DimensionCounts) HeatmapCell {
	cell := HeatmapCell{
		ProcessID:     node.ID,
		ParentID:      node.ParentID,
		Code:          node.Code,
		Name:          node.Name,
		DepthLevel:    node.DepthLevel,
		Counts:        counts,
		PeopleColour:  counts.People.Colour(),
		ProcessColour: counts.Process.Colour(),
		SystemColour:  counts.System.Colour(),
		DataColour:    counts.Data.Colour(),
	}
	cell.OverallColour = OverallOf(cell.PeopleColour, cell.ProcessColour, cell.SystemColour, cell.DataColour)
	return cell
}

// Colour returns the cell colour for one dimension.
func (c HeatmapCell) Colour(dim Dimension) RAGStatus {
	switch dim {
	case DimensionPeople:
		return c.PeopleColour
	case DimensionProcess:
		return c.ProcessColour
	case DimensionSystem:
		return c.SystemColour
	default:
		return c.DataColour
	}
}
