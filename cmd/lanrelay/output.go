package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"lanrelay/internal/core/domain"
)

type fileRow struct {
	Owner    string
	Filename string
	Size     int64
	Target   string
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func renderParticipants(w io.Writer, users []domain.Participant, self domain.SessionID) {
	t := newTable(w, fmt.Sprintf("Participants (%d)", len(users)))
	t.AppendHeader(table.Row{"#", "Name", "ID", "Video", "Audio", "Screen"})
	for i, p := range users {
		name := p.Name
		if p.ID == self {
			name += " (you)"
		}
		t.AppendRow(table.Row{i + 1, name, p.ID, onOff(p.Video), onOff(p.Audio), onOff(p.Screen)})
	}
	t.Render()
}

func renderFiles(w io.Writer, files []fileRow) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"Owner", "Filename", "Size", "Target"})
	for _, f := range files {
		t.AppendRow(table.Row{f.Owner, f.Filename, formatSize(f.Size), f.Target})
	}
	t.Render()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "-"
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
