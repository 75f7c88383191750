package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"spesync/internal/app"
	"spesync/internal/core"
)

var errUsage = errors.New("usage")

const dateLayout = "2006-01-02"

const usage = `usage: spese <command> [flags]

commands:
  login -u USER [-p PASS]      log in (password also read from SPESE_PASSWORD)
  logout                       forget the stored session
  whoami                       show the logged in identity
  list                         list expenses, newest first
  add -d DESC -a AMOUNT -c CATEGORY [-m METHOD] [-date YYYY-MM-DD]
  edit ID [-d DESC] [-a AMOUNT] [-c CATEGORY] [-m METHOD] [-date YYYY-MM-DD]
  rm ID                        delete an expense
  total                        sum of all expenses
  report [-filter weekly|monthly|yearly] [-ref YYYY-MM-DD]
  users list|add|edit|rm       manage accounts (admins only)
`

// run executes one command against a. Commands other than login restore
// the persisted session first.
func run(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	case "login":
		return cmdLogin(ctx, a, rest, out)
	}

	if err := a.Activate(ctx); err != nil {
		return err
	}
	if cmd != "logout" && !a.Session.IsAuthenticated() {
		return errors.New("not logged in, run `spese login` first")
	}

	switch cmd {
	case "logout":
		a.Logout(ctx)
		fmt.Fprintln(out, "Logged out")
		return nil
	case "whoami":
		who := a.Session.Current().Identity
		fmt.Fprintf(out, "%s (%s)\n", who.Username, who.Role)
		return nil
	case "list":
		return cmdList(a, out)
	case "add":
		return cmdAdd(ctx, a, rest, out)
	case "edit":
		return cmdEdit(ctx, a, rest, out)
	case "rm":
		return cmdRemove(ctx, a, rest, out)
	case "total":
		fmt.Fprintf(out, "%s (%d expenses)\n", a.Expenses.Total().StringFixed(), a.Expenses.Len())
		return nil
	case "report":
		return cmdReport(a, rest, out)
	case "users":
		return cmdUsers(ctx, a, rest, out)
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// splitID pulls the leading positional id out of args so flags may follow it.
func splitID(cmd string, args []string) (string, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", nil, fmt.Errorf("%w: %s needs an id", errUsage, cmd)
	}
	return args[0], args[1:], nil
}

func cmdLogin(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("login", out)
	username := fs.String("u", "", "username")
	password := fs.String("p", os.Getenv("SPESE_PASSWORD"), "password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := a.Login(ctx, *username, *password); err != nil {
		return err
	}
	who := a.Session.Current().Identity
	fmt.Fprintf(out, "Logged in as %s (%s)\n", who.Username, who.Role)
	return nil
}

func cmdList(a *app.App, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tDESCRIPTION\tCATEGORY\tPAYMENT\tAMOUNT")
	for _, e := range a.Expenses.Expenses() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Date.Local().Format(dateLayout), e.Description, e.Category, e.PaymentMethod, e.Amount.StringFixed())
	}
	return tw.Flush()
}

type expenseFlags struct {
	description, amount, category, method, date *string
}

func bindExpenseFlags(fs *flag.FlagSet) expenseFlags {
	return expenseFlags{
		description: fs.String("d", "", "description"),
		amount:      fs.String("a", "", "amount"),
		category:    fs.String("c", "", "category"),
		method:      fs.String("m", "", "payment method"),
		date:        fs.String("date", "", "date (YYYY-MM-DD)"),
	}
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, core.Validation(core.ErrInvalidDate)
	}
	return t, nil
}

func cmdAdd(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("add", out)
	f := bindExpenseFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	amount, err := core.ParseAmount(*f.amount)
	if err != nil {
		return err
	}
	d := core.Draft{
		Description:   *f.description,
		Amount:        amount,
		Category:      core.Category(*f.category),
		PaymentMethod: core.PaymentMethod(*f.method),
	}
	if *f.date != "" {
		if d.Date, err = parseDate(*f.date); err != nil {
			return err
		}
	}
	e, ok := a.Expenses.Create(ctx, d)
	if !ok {
		return fmt.Errorf("add expense: %w", lastFailure(a))
	}
	fmt.Fprintf(out, "Added %s: %s %s\n", e.ID, e.Description, e.Amount.StringFixed())
	return nil
}

func cmdEdit(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	id, args, err := splitID("edit", args)
	if err != nil {
		return err
	}
	fs := newFlagSet("edit", out)
	f := bindExpenseFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var p core.ExpensePatch
	if *f.description != "" {
		p.Description = core.Some(*f.description)
	}
	if *f.amount != "" {
		amount, err := core.ParseAmount(*f.amount)
		if err != nil {
			return err
		}
		p.Amount = core.Some(amount)
	}
	if *f.category != "" {
		p.Category = core.Some(core.Category(*f.category))
	}
	if *f.method != "" {
		p.PaymentMethod = core.Some(core.PaymentMethod(*f.method))
	}
	if *f.date != "" {
		t, err := parseDate(*f.date)
		if err != nil {
			return err
		}
		p.Date = core.Some(t)
	}

	e, err := a.Expenses.Update(ctx, id, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Updated %s: %s %s\n", e.ID, e.Description, e.Amount.StringFixed())
	return nil
}

func cmdRemove(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	id, _, err := splitID("rm", args)
	if err != nil {
		return err
	}
	if !a.Expenses.Delete(ctx, id) {
		return fmt.Errorf("delete expense: %w", lastFailure(a))
	}
	fmt.Fprintf(out, "Deleted %s\n", id)
	return nil
}

// lastFailure explains a failed Create or Delete. A rejected token ends the
// session, which clears the cache's failure along with everything else.
func lastFailure(a *app.App) error {
	if err := a.Expenses.LastFailure(); err != nil {
		return err
	}
	if !a.Session.IsAuthenticated() {
		return core.Authentication("session expired, run `spese login` again")
	}
	return errors.New("session changed while the request was in flight")
}

func cmdReport(a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("report", out)
	filter := fs.String("filter", string(core.Monthly), "weekly, monthly or yearly")
	refFlag := fs.String("ref", "", "reference date (YYYY-MM-DD), defaults to now")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	f, err := core.ParseFilter(*filter)
	if err != nil {
		return err
	}
	ref := time.Now()
	if *refFlag != "" {
		d, err := parseDate(*refFlag)
		if err != nil {
			return err
		}
		// End of the reference day so its expenses are included.
		ref = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	agg := a.Summary(f, ref)
	fmt.Fprintf(out, "%s %s .. %s: %s (%d expenses)\n", f,
		agg.Window.Start.Format(dateLayout), agg.Window.End.Format(dateLayout),
		agg.Total.StringFixed(), agg.Count)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nCATEGORY\tAMOUNT")
	for _, c := range agg.ByCategory {
		fmt.Fprintf(tw, "%s\t%s\n", c.Category, c.Amount.StringFixed())
	}
	fmt.Fprintln(tw, "\nPERIOD\tAMOUNT")
	for _, b := range agg.Series {
		fmt.Fprintf(tw, "%s\t%s\n", b.Label, b.Amount.StringFixed())
	}
	return tw.Flush()
}
