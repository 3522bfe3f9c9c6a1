package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/nexidian/gocliselect"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"qtrack/internal/types"
)

const dateLayout = "2006-01-02"

var (
	progressColor = color.New(color.FgYellow).SprintFunc()
	doneColor     = color.New(color.FgGreen).SprintFunc()
	holdColor     = color.New(color.FgRed).SprintFunc()
	unsetColor    = color.New(color.Faint).SprintFunc()
)

// PrintTable writes tab separated, left aligned columns. footers may be nil.
func PrintTable(w io.Writer, headers []string, rows [][]string, footers []string) {
	colWidths := make([]int, len(headers))
	for i, header := range headers {
		colWidths[i] = visibleLen(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := visibleLen(cell); n > colWidths[i] {
				colWidths[i] = n
			}
		}
	}

	// print header
	writeRow(w, colWidths, headers)

	// print rows
	for _, row := range rows {
		writeRow(w, colWidths, row)
	}

	if len(footers) > 0 {
		writeRow(w, colWidths, footers)
	}
}

func writeRow(w io.Writer, widths []int, cells []string) {
	for i, cell := range cells {
		pad := widths[i] - visibleLen(cell)
		if pad < 0 {
			pad = 0
		}
		fmt.Fprintf(w, "%s%s\t", cell, strings.Repeat(" ", pad))
	}
	fmt.Fprintln(w)
}

// visibleLen ignores ANSI color sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			n++
		}
	}
	return n
}

func colorStatus(s types.Status) string {
	switch s {
	case types.StatusProgress:
		return progressColor(s.String())
	case types.StatusDone:
		return doneColor(s.String())
	case types.StatusHold:
		return holdColor(s.String())
	}
	return unsetColor(s.String())
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseWhen accepts YYYY-MM-DD or a natural phrase like "next monday"
// relative to base.
func parseWhen(text string, base time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := time.ParseInLocation(dateLayout, text, time.UTC); err == nil {
		return t, nil
	}
	r, err := parser.Parse(text, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", text)
	}
	return r.Time, nil
}

// parseDateFlag converts an optional date flag to a calendar date in UTC.
func parseDateFlag(text string, base time.Time) (*time.Time, error) {
	if text == "" {
		return nil, nil
	}
	t, err := parseWhen(text, base)
	if err != nil {
		return nil, err
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d, nil
}

var errNoSelection = errors.New("no status selected")

// pickStatus shows an interactive status menu.
func pickStatus() (types.Status, error) {
	menu := gocliselect.NewMenu("Choose a status")
	for _, s := range types.Statuses {
		menu.AddItem(s.String(), s.String())
	}
	choice := fmt.Sprint(menu.Display())
	if choice == "" {
		return "", errNoSelection
	}
	return types.ParseStatus(choice)
}
