package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitbutler/butlerd/internal/users"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the access token used for oplog sync",
	Run: func(cmd *cobra.Command, args []string) {
		token, _ := cmd.Flags().GetString("token")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")

		if token == "" {
			fatalf("--token is required")
		}

		user := &users.User{Name: name, Email: email, AccessToken: token}
		if err := users.NewStore(cfg.DataDir).SetUser(user); err != nil {
			fatalf("%v", err)
		}
		fmt.Println(okStyle.Render("Logged in"))
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	Run: func(cmd *cobra.Command, args []string) {
		if err := users.NewStore(cfg.DataDir).DeleteUser(); err != nil {
			fatalf("%v", err)
		}
		fmt.Println(okStyle.Render("Logged out"))
	},
}

func init() {
	loginCmd.Flags().String("token", "", "Access token")
	loginCmd.Flags().String("name", "", "Display name")
	loginCmd.Flags().String("email", "", "Email address")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
