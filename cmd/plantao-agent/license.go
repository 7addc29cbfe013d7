package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/license"
)

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Check and sync agent licenses",
}

var licenseCheckCmd = &cobra.Command{
	Use:   "check CPF",
	Short: "Decide whether an agent's license allows access",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := ag.Gate.Check(cmd.Context(), args[0])
		if asJSON {
			if err := printJSON(d); err != nil {
				return err
			}
		} else {
			verdict := "ALLOWED"
			if !d.Allowed {
				verdict = "DENIED"
			}
			name := ""
			if d.License != nil {
				name = d.License.Name
			}
			fmt.Printf("%s\t%s\t%s\t%s\n", verdict, d.Reason, d.Source, name)
		}
		if !d.Allowed {
			return fmt.Errorf("license denied: %s", d.Reason)
		}
		return nil
	},
}

var licenseSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replace the offline license cache with the current list",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ag.Syncer.Sync(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Synced %d licenses (version %d)\n", len(ag.Licenses.Licenses()), ag.Licenses.Version())
		return nil
	},
}

var licenseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the offline license cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		list := ag.Licenses.Licenses()
		if asJSON {
			return printJSON(list)
		}
		now := ag.Licenses.Now()
		w := table("CPF\tNAME\tSTATUS\tEXPIRES\tVALID")
		for _, l := range list {
			exp := "-"
			if l.LicenseExpiresAt != nil {
				exp = *l.LicenseExpiresAt
			}
			ok, reason := license.Evaluate(l, now)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t (%s)\n", l.DocumentNumber, l.Name, l.LicenseStatus, exp, ok, reason)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if last, ok := ag.Licenses.LastSync(); ok {
			fmt.Fprintf(os.Stderr, "%d licenses, last sync %s\n", len(list), last.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var licensePublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the license snapshot to the S3 bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := ag.PublishLicenses(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Published %d licenses to s3://%s/%s\n", n, cfg.S3Bucket, cfg.S3SnapshotKey)
		return nil
	},
}

func init() {
	licenseCmd.AddCommand(licenseCheckCmd, licenseSyncCmd, licenseListCmd, licensePublishCmd)
}
