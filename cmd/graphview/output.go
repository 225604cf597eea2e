// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/GraphView/services/view/engine"
	"github.com/AleutianAI/GraphView/services/view/replay"
)

// styles are bound to the output writer, so a pipe or buffer gets plain
// text.
type styles struct {
	title  lipgloss.Style
	header lipgloss.Style
	id     lipgloss.Style
	faint  lipgloss.Style
	warn   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		header: r.NewStyle().Bold(true).Underline(true),
		id:     r.NewStyle().Foreground(lipgloss.Color("214")),
		faint:  r.NewStyle().Foreground(lipgloss.Color("241")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderResult(w io.Writer, res *replay.Result, asJSON bool) error {
	if asJSON {
		return writeJSON(w, res)
	}
	st := newStyles(w)
	var b strings.Builder

	name := res.Scenario
	if name == "" {
		name = "scenario"
	}
	fmt.Fprintf(&b, "%s %s\n", st.title.Render(name),
		st.faint.Render(fmt.Sprintf("(%d steps, %s)", res.Steps, res.Duration.Round(time.Microsecond))))
	for _, snap := range res.Snapshots {
		fmt.Fprintf(&b, "\n%s %s\n", st.header.Render("Snapshot"), st.id.Render(snap.Label))
		renderSnapshot(&b, st, snap.Snapshot)
	}
	fmt.Fprintf(&b, "\n%s\n", st.header.Render("Final view"))
	renderSnapshot(&b, st, res.Final)

	_, err := io.WriteString(w, b.String())
	return err
}

func renderSnapshot(b *strings.Builder, st styles, s engine.Snapshot) {
	budget := fmt.Sprintf("visible %d / limit %d", s.Visible, s.NodeLimit)
	if s.Visible > s.NodeLimit {
		budget = st.warn.Render(budget)
	}
	fmt.Fprintf(b, "  %s  %s\n", budget, st.faint.Render(fmt.Sprintf("generation %d", s.Generation)))

	if len(s.Nodes) > 0 {
		fmt.Fprintf(b, "  nodes\n")
		for _, n := range s.Nodes {
			state := "collapsed"
			if n.Expanded {
				state = "expanded"
			}
			if n.Fixed {
				state += ", fixed"
			}
			fmt.Fprintf(b, "    %s  in %d out %d  %s\n", st.id.Render(n.ID), n.Inbound, n.Outbound, st.faint.Render(state))
		}
	}
	if len(s.Communities) > 0 {
		fmt.Fprintf(b, "  communities\n")
		for _, c := range s.Communities {
			state := "folded"
			if c.Expanded {
				state = "expanded"
			}
			fmt.Fprintf(b, "    %s  size %d  %s  %s  [%s]\n",
				st.id.Render(c.ID), c.Size, c.Reason.String(), st.faint.Render(state), strings.Join(c.Members, " "))
		}
	}
	if len(s.Edges) > 0 {
		fmt.Fprintf(b, "  edges\n")
		for _, e := range s.Edges {
			fmt.Fprintf(b, "    %s  %s -> %s  %s\n", e.ID, e.Source, e.Target, st.faint.Render(e.Placement))
		}
	}
}

func renderPartition(w io.Writer, res *PartitionResult, asJSON bool) error {
	if asJSON {
		return writeJSON(w, res)
	}
	st := newStyles(w)
	_, err := fmt.Fprintf(w, "%s %s\n  community of %d: %s\n",
		st.title.Render("partition"),
		st.faint.Render(fmt.Sprintf("(%d nodes, %d edges, limit %d)", res.Nodes, res.Edges, res.Limit)),
		len(res.Result),
		strings.Join(res.Result, " "),
	)
	return err
}

func renderVersion(w io.Writer) error {
	_, err := fmt.Fprintf(w, "graphview %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return err
}
