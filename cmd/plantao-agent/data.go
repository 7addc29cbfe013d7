package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/datahooks"
)

var shiftsCmd = &cobra.Command{
	Use:   "shifts AGENT_ID",
	Short: "Load an agent's shifts, network first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap := ag.ShiftsHook(args[0]).Refresh(cmd.Context())
		if asJSON {
			return printJSON(snap)
		}
		w := table("DATE\tTYPE\tSTATUS\tID")
		for _, s := range snap.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ShiftDate, s.ShiftType, s.Status, s.ID)
		}
		return flush(w, snap)
	},
}

var teamCmd = &cobra.Command{
	Use:   "team UNIT_ID TEAM",
	Short: "Load the active members of a team, network first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap := ag.TeamHook(args[0], args[1]).Refresh(cmd.Context())
		if asJSON {
			return printJSON(snap)
		}
		w := table("NAME\tROLE\tPHONE\tID")
		for _, m := range snap.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.Role, m.Phone, m.ID)
		}
		return flush(w, snap)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events AGENT_ID",
	Short: "Load an agent's calendar events, network first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap := ag.EventsHook(args[0]).Refresh(cmd.Context())
		if asJSON {
			return printJSON(snap)
		}
		w := table("DATE\tTYPE\tTITLE\tID")
		for _, e := range snap.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.EventDate, e.EventType, e.Title, e.ID)
		}
		return flush(w, snap)
	},
}

func table(header string) *tabwriter.Writer {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, header)
	return w
}

func flush[T any](w *tabwriter.Writer, snap datahooks.Snapshot[T]) error {
	if err := w.Flush(); err != nil {
		return err
	}
	n := len(snap.Items)
	switch {
	case snap.FromCache && !snap.SyncedAt.IsZero():
		fmt.Fprintf(os.Stderr, "%d rows from offline cache (synced %s)\n", n, snap.SyncedAt.Format(time.RFC3339))
	case snap.FromCache:
		fmt.Fprintf(os.Stderr, "%d rows from offline cache\n", n)
	default:
		fmt.Fprintf(os.Stderr, "%d rows\n", n)
	}
	return nil
}
