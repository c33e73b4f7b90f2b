package admin

import (
	"fmt"

	"github.com/spf13/cobra"
)

func UserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	cmd.AddCommand(UserCreateCmd())
	cmd.AddCommand(UserListCmd())

	return cmd
}

func UserCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outputFormat, _ := cmd.Flags().GetString("output")

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.auth.CreateUser(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			if outputFormat == "json" {
				return printJSON(map[string]any{
					"id":         user.ID,
					"name":       user.Name,
					"created_at": user.CreatedAt,
				})
			}
			fmt.Printf("User created: %s (%s)\n", user.Name, user.ID)
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func UserListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outputFormat, _ := cmd.Flags().GetString("output")

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			users, err := a.auth.ListUsers(ctx)
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}

			if outputFormat == "json" {
				items := make([]map[string]any, len(users))
				for i, u := range users {
					items[i] = map[string]any{"id": u.ID, "name": u.Name, "created_at": u.CreatedAt}
				}
				return printJSON(map[string]any{"items": items})
			}

			if len(users) == 0 {
				fmt.Println("No users found")
				return nil
			}
			fmt.Println("Users:")
			for _, u := range users {
				fmt.Printf("  %s: %s (created: %s)\n", u.ID, u.Name, u.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}
