package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wrale/phantom/internal/credentials"
)

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.DeleteToken(); err != nil {
				if errors.Is(err, credentials.ErrNoToken) {
					fmt.Fprintln(a.out, "Not logged in.")
					return nil
				}
				return err
			}
			fmt.Fprintln(a.out, "Logged out.")
			return nil
		},
	}
}
