package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/user"
)

func (cli *commandLine) addUserCmd() *cobra.Command {
	var nu user.NewUser
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create an approved user, SUPER_ADMIN by default. The password is prompted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			nu.Password, nu.PasswordConfirm = pwd, pwd
			usr, err := cli.addUser(cmd.Context(), nu)
			if err != nil {
				return err
			}
			cli.printf("%s user %s created (id: %s)\n", usr.Role, usr.Email, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&nu.Email, "email", "", "the user's email, used to log in")
	cmd.Flags().StringVar(&nu.Name, "name", "Administrator", "the user's name")
	cmd.Flags().StringVar(&nu.Role, "role", core.RoleSuperAdmin, "the user's role")
	cmd.Flags().StringVar(&nu.OrganizationID, "organization", "", "organization id of ORG_ADMIN & OPERATOR users")
	cmd.Flags().StringVar(&nu.CustomerID, "customer", "", "customer id of CUSTOMER_ADMIN & CUSTOMER_USER users")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (cli *commandLine) addUser(ctx context.Context, nu user.NewUser) (user.User, error) {
	if err := nu.Validate(ctx, cli.app.Validate, cli.app.UserSvc); err != nil {
		return user.User{}, err
	}
	usr, err := cli.app.UserSvc.Create(ctx, core.SystemActor, nu)
	if err != nil {
		return user.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Set the password of a user. The password is prompted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			if _, err = cli.app.UserSvc.SetPassword(cmd.Context(), email, pwd); err != nil {
				return err
			}
			cli.printf("password of %s updated\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "the user's email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
