package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/deploydeck/internal/admin"
	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/store"
)

func newAdminCmd(c *cli) *cobra.Command {
	var creds credentials

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator console: users, deployments and counters",
	}
	creds.register(cmd.PersistentFlags())

	withConsole := func(run func(ctx context.Context, console *admin.Console, ds backend.DataService, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, user, err := creds.connect(ctx, c)
			if err != nil {
				return err
			}
			if user.Role != string(store.RoleAdmin) {
				return fmt.Errorf("%s is not an administrator", user.Email)
			}

			console := admin.NewConsole(client, c.logger)
			if err := console.Load(ctx); err != nil {
				// Partial loads are still usable.
				fmt.Fprintf(cmd.ErrOrStderr(), "! %v\n", err)
			}
			return run(ctx, console, client, cmd.OutOrStdout(), args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "users",
			Short: "List users, newest first",
			Args:  cobra.NoArgs,
			RunE: withConsole(func(_ context.Context, console *admin.Console, _ backend.DataService, out io.Writer, _ []string) error {
				return printUsers(out, console.Users())
			}),
		},
		&cobra.Command{
			Use:   "deploys",
			Short: "List deployments, newest first",
			Args:  cobra.NoArgs,
			RunE: withConsole(func(_ context.Context, console *admin.Console, _ backend.DataService, out io.Writer, _ []string) error {
				return printDeployments(out, console.Deployments())
			}),
		},
		&cobra.Command{
			Use:   "premium <user-id>",
			Short: "Toggle a user's premium status",
			Args:  cobra.ExactArgs(1),
			RunE: withConsole(func(ctx context.Context, console *admin.Console, _ backend.DataService, out io.Writer, args []string) error {
				u, ok := findUser(console.Users(), args[0])
				if !ok {
					return fmt.Errorf("user %s: %w", args[0], backend.ErrNotFound)
				}
				if err := console.TogglePremium(ctx, u.ID, u.IsPremium); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s premium: %s\n", u.Email, strconv.FormatBool(!u.IsPremium))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete <user-id>",
			Short: "Delete a user",
			Args:  cobra.ExactArgs(1),
			RunE: withConsole(func(ctx context.Context, console *admin.Console, _ backend.DataService, out io.Writer, args []string) error {
				if err := console.DeleteUser(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted %s\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show overview counters",
			Args:  cobra.NoArgs,
			RunE: withConsole(func(ctx context.Context, console *admin.Console, ds backend.DataService, out io.Writer, _ []string) error {
				messages, err := countMessages(ctx, ds, c)
				if err != nil {
					return err
				}
				printStats(out, console.Stats(messages))
				return nil
			}),
		},
	)
	return cmd
}

// countMessages counts the chat history page the chat view would load for
// the configured scope.
func countMessages(ctx context.Context, ds backend.DataService, c *cli) (int, error) {
	records, err := ds.Query(ctx, backend.CollectionMessages, backend.Query{
		Filter: map[string]string{"scope": c.cfg.Client.Scope},
		Limit:  c.cfg.HistoryLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return len(records), nil
}

func findUser(users []admin.User, id string) (admin.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return admin.User{}, false
}

func printUsers(out io.Writer, users []admin.User) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tPREMIUM\tJOINED")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			u.ID, u.Email, u.FullName, u.Role, u.IsPremium, u.CreatedAt.Local().Format("2006-01-02"))
	}
	return w.Flush()
}

func printDeployments(out io.Writer, deployments []admin.Deployment) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tSTATUS\tREGION\tCREATED")
	for _, d := range deployments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.ProjectName, d.Status, d.Region, d.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func printStats(out io.Writer, s admin.Stats) {
	fmt.Fprintf(out, "users:        %d\n", s.TotalUsers)
	fmt.Fprintf(out, "premium:      %d\n", s.PremiumUsers)
	fmt.Fprintf(out, "deployments:  %d\n", s.Deployments)
	fmt.Fprintf(out, "messages:     %d\n", s.Messages)
}
