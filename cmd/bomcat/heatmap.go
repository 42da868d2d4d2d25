package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	servercommon "github.com/hylla/bomcat/internal/adapters/server/common"
)

// ragStyles maps colour names to terminal styles.
var ragStyles = map[string]lipgloss.Style{
	"red":     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	"amber":   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	"green":   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	"neutral": lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}

// heatmapDimensions fixes the column order.
var heatmapDimensions = []string{"people", "process", "system", "data"}

// renderHeatmap draws one heatmap as a bordered table with coloured dimension cells.
func renderHeatmap(heatmap servercommon.Heatmap) string {
	if len(heatmap.Cells) == 0 {
		return fmt.Sprintf("%s heatmap: no processes", heatmap.View)
	}
	rows := make([][]string, 0, len(heatmap.Cells))
	for _, cell := range heatmap.Cells {
		row := []string{cell.Code, strings.Repeat("  ", cell.DepthLevel) + cell.Name}
		colours := []string{cell.Colours.People, cell.Colours.Process, cell.Colours.System, cell.Colours.Data}
		for i, dim := range heatmapDimensions {
			row = append(row, colourize(colours[i], formatCounts(cell.Counts[dim])))
		}
		row = append(row, colourize(cell.OverallColour, cell.OverallColour))
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("239"))).
		Headers("CODE", "PROCESS", "PEOPLE", "PROCESS", "SYSTEM", "DATA", "OVERALL").
		Rows(rows...)
	title := lipgloss.NewStyle().Bold(true).Render(heatmap.View + " heatmap")
	return title + "\n" + t.Render()
}

// formatCounts renders counts as `total (H/M/L)`, or `-` with no open issues.
func formatCounts(c servercommon.IssueCounts) string {
	if c.Total == 0 {
		return "-"
	}
	return fmt.Sprintf("%d (%d/%d/%d)", c.Total, c.High, c.Medium, c.Low)
}

// colourize styles text with the style of colour, leaving unknown colours plain.
func colourize(colour, text string) string {
	style, ok := ragStyles[colour]
	if !ok {
		return text
	}
	return style.Render(text)
}

// writeHeatmapJSON writes heatmap as indented JSON.
func writeHeatmapJSON(w io.Writer, heatmap servercommon.Heatmap) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(heatmap); err != nil {
		return fmt.Errorf("encode heatmap: %w", err)
	}
	return nil
}
