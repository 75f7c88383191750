package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"spesync/internal/app"
	"spesync/internal/core"
)

func cmdUsers(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: users needs list, add, edit or rm", errUsage)
	}
	sub, rest := args[0], args[1:]

	var (
		users []core.User
		err   error
	)
	switch sub {
	case "list":
		users, err = a.Users.List(ctx)
	case "add":
		fs := newFlagSet("users add", out)
		username := fs.String("u", "", "username")
		password := fs.String("p", "", "password")
		role := fs.String("role", string(core.RoleUser), "admin or user")
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		users, err = a.Users.Create(ctx, core.NewUser{Username: *username, Password: *password, Role: core.Role(*role)})
	case "edit":
		id, flags, perr := splitID("users edit", rest)
		if perr != nil {
			return perr
		}
		fs := newFlagSet("users edit", out)
		username := fs.String("u", "", "new username")
		password := fs.String("p", "", "new password (empty keeps the current one)")
		role := fs.String("role", "", "admin or user")
		if err := fs.Parse(flags); err != nil {
			return errUsage
		}
		var p core.UserPatch
		if *username != "" {
			p.Username = core.Some(*username)
		}
		if *password != "" {
			p.Password = core.Some(*password)
		}
		if *role != "" {
			p.Role = core.Some(core.Role(*role))
		}
		users, err = a.Users.Update(ctx, id, p)
	case "rm":
		id, _, perr := splitID("users rm", rest)
		if perr != nil {
			return perr
		}
		users, err = a.Users.Delete(ctx, id)
	default:
		return fmt.Errorf("%w: unknown users command %q", errUsage, sub)
	}
	if err != nil {
		return err
	}
	return printUsers(users, out)
}

func printUsers(users []core.User, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tROLE")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.ID, u.Username, u.Role)
	}
	return tw.Flush()
}
