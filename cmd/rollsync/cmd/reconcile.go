package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/profile"
	"github.com/campusworks/rollsync/internal/reconcile"
)

// reconcileCmd drives both stores to a consistent state for one person.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile --role <role> --prn <prn> --email <email>",
	Short: "Provision or repair one account/profile pair",
	Long: `Ensures exactly one login account and one profile exist for the given
(role, PRN), linked to each other, with the account usable at the given
email and password.

The password is read from the environment variable named by --password-env,
or prompted for without echo when the flag is omitted and stdin is a
terminal. It is never accepted as a command-line argument.

The command exits non-zero on a conflict (the email already belongs to an
account linked to a different profile) as well as on failure, so scripts
cannot mistake an unresolved collision for success. Pass --force-relink to
repoint the profile at the email's existing account instead.

Examples:
  rollsync reconcile --role student --prn RBT24CS028 --email t28.gfm@gmail.com
  rollsync reconcile --role teacher --prn T-104 --email rao@college.edu \
      --name "S. Rao" --department CSE --password-env RAO_PASSWORD
  rollsync reconcile --role student --prn RBT24CS099 --email shared@gmail.com --force-relink`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		roleStr, _ := cmd.Flags().GetString("role")
		role, err := profile.ParseRole(roleStr)
		if err != nil {
			return err
		}
		prn, _ := cmd.Flags().GetString("prn")
		email, _ := cmd.Flags().GetString("email")

		cred, err := readCredential(cmd)
		if err != nil {
			return err
		}

		forceRelink, _ := cmd.Flags().GetBool("force-relink")
		req := reconcile.Request{
			Role:        role,
			PRN:         prn,
			Email:       email,
			Credential:  cred,
			ForceRelink: forceRelink,
			Attrs:       attrsFromFlags(cmd),
		}

		out, err := reconciler.Reconcile(cmd.Context(), req)
		if err != nil {
			if out.Retryable {
				logger.Warn().Msg("failure looks transient; retrying the same command is safe")
			}
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			if err := printJSON(out); err != nil {
				return err
			}
		} else {
			printOutcome(out)
		}

		if out.Kind == reconcile.Conflict {
			return fmt.Errorf("unresolved email conflict (use --force-relink to repoint the profile)")
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().String("role", "", "account role: admin, teacher, or student")
	reconcileCmd.Flags().String("prn", "", "registration number (natural key)")
	reconcileCmd.Flags().String("email", "", "login and contact email")
	reconcileCmd.Flags().String("password-env", "", "environment variable holding the password")
	reconcileCmd.Flags().String("name", "", "full name")
	reconcileCmd.Flags().String("department", "", "department")
	reconcileCmd.Flags().String("branch", "", "branch (students)")
	reconcileCmd.Flags().String("year", "", "year of study (students)")
	reconcileCmd.Flags().String("division", "", "division (students)")
	reconcileCmd.Flags().String("phone", "", "phone number")
	reconcileCmd.Flags().Bool("force-relink", false, "repoint the profile when the email's account is linked elsewhere")
	reconcileCmd.Flags().Bool("json", false, "print the outcome as JSON")

	_ = reconcileCmd.MarkFlagRequired("role")
	_ = reconcileCmd.MarkFlagRequired("prn")
	_ = reconcileCmd.MarkFlagRequired("email")
}

func attrsFromFlags(cmd *cobra.Command) reconcile.Attributes {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return reconcile.Attributes{
		FullName:   get("name"),
		Department: get("department"),
		Branch:     get("branch"),
		Year:       get("year"),
		Division:   get("division"),
		Phone:      get("phone"),
	}
}

// readCredential resolves the password from --password-env, falling back
// to a no-echo terminal prompt. Passwords never appear in argv.
func readCredential(cmd *cobra.Command) (identity.Secret, error) {
	envVar, _ := cmd.Flags().GetString("password-env")
	if envVar != "" {
		v := os.Getenv(envVar)
		if v == "" {
			return "", fmt.Errorf("environment variable %s is not set", envVar)
		}
		return identity.Secret(v), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; pass --password-env instead")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimSpace(string(raw))
	if pw == "" {
		return "", fmt.Errorf("password is empty")
	}
	return identity.Secret(pw), nil
}

func printOutcome(out reconcile.Outcome) {
	switch out.Kind {
	case reconcile.Created:
		fmt.Printf("created: new account %s for %s/%s (%s)\n", out.IdentityID, out.Role, out.PRN, out.Email)
	case reconcile.Linked:
		fmt.Printf("linked: account %s attached to %s/%s (%s)\n", out.IdentityID, out.Role, out.PRN, out.Email)
	case reconcile.Updated:
		fmt.Printf("updated: %s/%s already linked to %s; credential refreshed\n", out.Role, out.PRN, out.IdentityID)
	case reconcile.Conflict:
		c := out.Conflict
		fmt.Printf("conflict: %s is owned by account %s, but %s/%s is linked to %s\n",
			c.ExistingEmail, c.ExistingIdentityID, c.Role, c.PRN, c.LinkedIdentityID)
		if c.ProfileEmail != "" {
			fmt.Printf("  profile's last reconciled email: %s\n", c.ProfileEmail)
		}
		fmt.Println("  nothing was changed")
	}
}
