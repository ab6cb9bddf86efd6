package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saltyorg/dataplow/internal/users"
)

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Read and update users",
	}
	cmd.AddCommand(
		usersListCmd(),
		usersGetCmd(),
		usersStreamCmd(),
		usersAverageAgeCmd(),
		usersCreateCmd(),
		usersUpdateEmailCmd(),
		usersConcurrentCmd(),
	)
	return cmd
}

func usersListCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users page by page",
		Long:  `Without --page every page is fetched lazily and printed as it arrives. With --page only that 0-based page is printed.`,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if page >= 0 {
				list, err := a.repo.Page(cmd.Context(), page, a.opts.PageSize)
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			}

			for p, err := range a.repo.Pages(cmd.Context(), a.opts.PageSize) {
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "# offset %d (%d rows)\n", p.Offset, p.Len())
				for _, row := range p.Rows {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%v\n",
						row.String("user_id"), row.String("name"), row.String("email"), row["age"])
				}
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&page, "page", -1, "Print a single 0-based page")
	return cmd
}

func usersGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <user_id>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			u, err := a.repo.GetUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, u)
		}),
	}
}

func usersStreamCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream users one row at a time",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			n := 0
			for u, err := range a.repo.Stream(cmd.Context()) {
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%g\n", u.ID, u.Name, u.Email, u.Age)
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many users (0 = all)")
	return cmd
}

func usersAverageAgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "average-age",
		Short: "Compute the average age over all users",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			avg, err := a.repo.AverageAge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Average age of users: %.2f\n", avg)
			return nil
		}),
	}
}

func usersCreateCmd() *cobra.Command {
	var nu users.NewUser
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Insert a user",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			u, err := a.repo.CreateUser(cmd.Context(), nu)
			if err != nil {
				return err
			}
			return printJSON(cmd, u)
		}),
	}
	cmd.Flags().StringVar(&nu.Name, "name", "", "User name")
	cmd.Flags().StringVar(&nu.Email, "email", "", "User email")
	cmd.Flags().Float64Var(&nu.Age, "age", 0, "User age")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func usersUpdateEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-email <user_id> <email>",
		Short: "Change a user's email in a retried transaction",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.repo.UpdateEmail(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
			return nil
		}),
	}
}

func usersConcurrentCmd() *cobra.Command {
	var age float64
	cmd := &cobra.Command{
		Use:   "concurrent",
		Short: "Fetch all users and older users concurrently",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			all, older, err := a.repo.FetchConcurrently(cmd.Context(), age)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"all":   all,
				"older": older,
			})
		}),
	}
	cmd.Flags().Float64Var(&age, "age", 40, "Age threshold for the second query")
	return cmd
}
