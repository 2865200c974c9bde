package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/loykin/devrun/pkg/client"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func formatStatus(st client.Status) string {
	if !st.Running {
		return "stopped"
	}
	if st.PID == nil {
		return "running"
	}
	return "running, pid " + strconv.Itoa(*st.PID)
}

func printProjects(w io.Writer, ps []client.ProjectStatus) {
	if len(ps) == 0 {
		_, _ = fmt.Fprintln(w, "No projects registered")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Status", "PID", "Path", "Script", "Description"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, p := range ps {
		state, pid := "stopped", "-"
		if p.Status.Running {
			state = "running"
			if p.Status.PID != nil {
				pid = strconv.Itoa(*p.Status.PID)
			}
		}
		table.Append([]string{p.Name, state, pid, p.Path, p.Script, p.Desc})
	}
	table.Render()
}
