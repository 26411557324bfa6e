package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/profile"
)

// verifyCmd is the read-only diagnostic: it reports store agreement and
// never mutates anything.
var verifyCmd = &cobra.Command{
	Use:   "verify <role> <prn>",
	Short: "Report whether the stores agree for one person",
	Long: `Checks the profile and the authentication account for one (role, PRN)
and reports whether they agree: profile present, account present for the
profile's email, the two linked, emails matching.

With --probe the command also attempts a sign-in against the account using
a password read the same way reconcile reads it (--password-env or a
no-echo prompt). A rejected password is reported in the output, not
treated as a command failure.

Exits non-zero when the records are out of sync, so the command doubles
as a scriptable health check.

Examples:
  rollsync verify student RBT24CS028
  rollsync verify teacher T-104 --probe --password-env RAO_PASSWORD
  rollsync verify student RBT24CS028 --json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := profile.ParseRole(args[0])
		if err != nil {
			return err
		}
		prn := args[1]

		var probe *identity.Secret
		if doProbe, _ := cmd.Flags().GetBool("probe"); doProbe {
			cred, err := readCredential(cmd)
			if err != nil {
				return err
			}
			probe = &cred
		}

		report, err := verifier.Verify(cmd.Context(), role, prn, probe)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			fmt.Printf("%s/%s\n", report.Role, report.PRN)
			fmt.Printf("  profile found:  %v\n", report.ProfileFound)
			if report.ProfileEmail != "" {
				fmt.Printf("  profile email:  %s\n", report.ProfileEmail)
			}
			fmt.Printf("  identity found: %v\n", report.IdentityFound)
			if report.IdentityID != "" {
				fmt.Printf("  identity id:    %s\n", report.IdentityID)
			}
			if report.ProfileFound && report.IdentityFound {
				fmt.Printf("  linked:         %v\n", report.Linked)
				fmt.Printf("  emails match:   %v\n", report.EmailsMatch)
			}
			if report.CredentialValid != nil {
				fmt.Printf("  sign-in works:  %v\n", *report.CredentialValid)
			}
		}

		if !report.InSync() {
			return fmt.Errorf("stores are out of sync for %s/%s (run reconcile to repair)", report.Role, report.PRN)
		}
		if report.CredentialValid != nil && !*report.CredentialValid {
			return fmt.Errorf("records agree but the probe sign-in was rejected")
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().Bool("probe", false, "attempt a sign-in with a supplied password")
	verifyCmd.Flags().String("password-env", "", "environment variable holding the probe password")
	verifyCmd.Flags().Bool("json", false, "print the report as JSON")
}
