package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var assumeYes bool

var safeModeCmd = &cobra.Command{
	Use:   "safe-mode",
	Short: "Control the safe-mode kill switch",
}

var safeModeEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Clear offline caches and bypass the response cache for a while",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !assumeYes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("safe mode deletes cached data; pass --yes to confirm")
			}
			if !confirm(os.Stdin, os.Stderr, "Safe mode deletes cached shifts, rosters, events and licenses. Continue?") {
				fmt.Println("Aborted")
				return nil
			}
		}
		if err := ag.SafeMode.Enable(cmd.Context()); err != nil {
			return err
		}
		return printSafeMode()
	},
}

var safeModeDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Leave safe mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ag.SafeMode.Disable(cmd.Context()); err != nil {
			return err
		}
		return printSafeMode()
	},
}

var safeModeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether safe mode is on",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printSafeMode()
	},
}

// confirm asks a yes/no question on out and reads the answer from in.
// Anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func printSafeMode() error {
	st := ag.Status().SafeMode
	if asJSON {
		return printJSON(st)
	}
	if !st.Active {
		fmt.Println("Safe mode: off")
		return nil
	}
	until := ""
	if st.ExpiresAt != nil {
		until = " (until " + st.ExpiresAt.Format(time.Kitchen) + ")"
	}
	fmt.Printf("Safe mode: on, %s remaining%s\n", st.Remaining, until)
	return nil
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the offline data caches",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached shifts, rosters, events and HTTP responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := ag.ClearCaches(cmd.Context())
		fmt.Printf("Removed %d cached entries\n", n)
		return err
	},
}

func init() {
	safeModeEnableCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
	safeModeCmd.AddCommand(safeModeEnableCmd, safeModeDisableCmd, safeModeStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
