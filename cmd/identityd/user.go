package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassword is a seam for term.ReadPassword.
var readPassword = term.ReadPassword

func newUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserCreateCmd(opts))
	return cmd
}

type userCreateFlags struct {
	email      string
	name       string
	role       string
	supervisor string
	noPassword bool
}

func newUserCreateCmd(opts *rootOptions) *cobra.Command {
	var f userCreateFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user, prompting for a password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := goIdentity.ParseRole(f.role)
			if err != nil {
				return err
			}

			var password string
			if !f.noPassword {
				password, err = promptNewPassword(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}

			env, err := opts.load()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.engine.CreateUser(cmd.Context(), goIdentity.NewUser{
				Email:        f.email,
				DisplayName:  f.name,
				Role:         role,
				SupervisorID: f.supervisor,
				Password:     password,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%s\n", u.Email, u.Role, u.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.email, "email", "", "login email")
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.role, "role", "sales_agent", "admin, manager, supervisor or sales_agent")
	cmd.Flags().StringVar(&f.supervisor, "supervisor", "", "supervisor user id, required for sales agents")
	cmd.Flags().BoolVar(&f.noPassword, "no-password", false, "create an identity-provider-only user")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// promptNewPassword reads the password twice without echo.
func promptNewPassword(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())

	fmt.Fprint(w, "Password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	fmt.Fprint(w, "Repeat password: ")
	second, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}

	if len(first) == 0 {
		return "", errors.New("password must not be empty")
	}
	if !bytes.Equal(first, second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
