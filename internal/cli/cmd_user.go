package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/maruel/mdbooks/internal/models"
)

func newUserCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserAddCmd(opts), newUserListCmd(opts))
	return cmd
}

func newUserAddCmd(opts *globalOpts) *cobra.Command {
	var password, email string
	var admin bool
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), afero.NewOsFs(), opts.dataDir)
			if err != nil {
				return err
			}
			u := &models.User{Username: args[0], Email: email}
			if admin {
				u.Role = models.RoleAdmin
			}
			if u, err = a.users.Create(u, password); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", u.ID, u.Username, u.Role)
			return err
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password of the user")
	cmd.Flags().StringVar(&email, "email", "", "Email of the user")
	cmd.Flags().BoolVar(&admin, "admin", false, "Give the admin role")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserListCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), afero.NewOsFs(), opts.dataDir)
			if err != nil {
				return err
			}
			users, err := a.users.List()
			if err != nil {
				return err
			}
			for _, u := range users {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", u.ID, u.Username, u.Role)
			}
			return nil
		},
	}
}
