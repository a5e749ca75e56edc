package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	domainauth "github.com/target/streamauth/internal/domain/auth"
	"github.com/target/streamauth/internal/ports"
	"github.com/target/streamauth/internal/service"
)

type createAdminOptions struct {
	Username    string
	Email       string
	DisplayName string
	Role        domainauth.Role
	Timeout     time.Duration
}

func parseCreateAdminFlags(args []string) (createAdminOptions, error) {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts createAdminOptions
	var role string
	fs.StringVar(&opts.Username, "username", "", "Login name (required)")
	fs.StringVar(&opts.Email, "email", "", "Email address (required)")
	fs.StringVar(&opts.DisplayName, "display-name", "", "Optional display name")
	fs.StringVar(&role, "role", string(domainauth.RoleAdmin), "Staff role: moderator, uploader, manager or admin")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for the command")

	if err := fs.Parse(args); err != nil {
		return createAdminOptions{}, err
	}

	var missing []string
	if strings.TrimSpace(opts.Username) == "" {
		missing = append(missing, "--username")
	}
	if strings.TrimSpace(opts.Email) == "" {
		missing = append(missing, "--email")
	}
	if len(missing) > 0 {
		return createAdminOptions{}, fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}

	parsed, err := domainauth.ParseRole(role)
	if err != nil {
		return createAdminOptions{}, err
	}
	if parsed == domainauth.RoleUser {
		return createAdminOptions{}, errors.New("--role must be a staff role; use the register endpoint for viewers")
	}
	opts.Role = parsed
	return opts, nil
}

// readPassword returns the first line of r without its line terminator.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password must be supplied on stdin")
	}
	return pw, nil
}

func runCreateAdmin(cmdCtx *commandContext, args []string) error {
	opts, err := parseCreateAdminFlags(args)
	if err != nil {
		return err
	}
	password, err := readPassword(os.Stdin)
	if err != nil {
		return err
	}

	return withAuthService(cmdCtx, opts.Timeout, func(ctx context.Context, svc *service.AuthService) error {
		p, createErr := svc.CreatePrincipal(ctx, service.CreatePrincipalInput{
			RegisterInput: service.RegisterInput{
				Username:    opts.Username,
				Email:       opts.Email,
				Password:    password,
				DisplayName: opts.DisplayName,
			},
			Role: opts.Role,
		})
		if createErr != nil {
			return createErr
		}
		return writef(os.Stdout, "Created %s %q with id %d\n", p.Role, p.Username, p.ID)
	})
}

type listPrincipalsOptions struct {
	Filter  ports.ListPrincipalsOptions
	Timeout time.Duration
}

func parseListPrincipalsFlags(args []string) (listPrincipalsOptions, error) {
	fs := flag.NewFlagSet("list-principals", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts   listPrincipalsOptions
		roles  string
		status string
	)
	fs.StringVar(&roles, "role", "", "Comma separated roles to include (default: all)")
	fs.StringVar(&status, "status", "", "active or disabled (default: both)")
	fs.IntVar(&opts.Filter.Limit, "limit", 50, "Maximum rows to print (1-200)")
	fs.IntVar(&opts.Filter.Offset, "offset", 0, "Rows to skip")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for the command")

	if err := fs.Parse(args); err != nil {
		return listPrincipalsOptions{}, err
	}

	for _, raw := range strings.Split(roles, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		r, err := domainauth.ParseRole(raw)
		if err != nil {
			return listPrincipalsOptions{}, err
		}
		opts.Filter.Roles = append(opts.Filter.Roles, r)
	}
	if status != "" {
		st := domainauth.Status(strings.ToLower(strings.TrimSpace(status)))
		if !st.Valid() {
			return listPrincipalsOptions{}, fmt.Errorf("unknown status %q", status)
		}
		opts.Filter.Status = st
	}
	if opts.Filter.Limit < 1 || opts.Filter.Limit > 200 {
		return listPrincipalsOptions{}, errors.New("--limit must be between 1 and 200")
	}
	if opts.Filter.Offset < 0 {
		return listPrincipalsOptions{}, errors.New("--offset must not be negative")
	}
	return opts, nil
}

func runListPrincipals(cmdCtx *commandContext, args []string) error {
	opts, err := parseListPrincipalsFlags(args)
	if err != nil {
		return err
	}

	return withAuthService(cmdCtx, opts.Timeout, func(ctx context.Context, svc *service.AuthService) error {
		principals, listErr := svc.ListPrincipals(ctx, opts.Filter)
		if listErr != nil {
			return listErr
		}
		return renderPrincipals(os.Stdout, principals)
	})
}

func renderPrincipals(w io.Writer, principals []*domainauth.Principal) error {
	if len(principals) == 0 {
		return writeln(w, "No principals found.")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "ID\tUSERNAME\tEMAIL\tROLE\tSTATUS\tLAST LOGIN"); err != nil {
		return err
	}
	for _, p := range principals {
		lastLogin := "never"
		if p.LastLoginAt != nil {
			lastLogin = p.LastLoginAt.UTC().Format(time.RFC3339)
		}
		if err := writef(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Username, p.Email, p.Role, p.Status, lastLogin); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type principalTargetOptions struct {
	ID      int64
	Value   string
	Timeout time.Duration
}

// parsePrincipalTargetFlags parses --id plus one required value flag named valueFlag.
func parsePrincipalTargetFlags(name, valueFlag, valueUsage string, args []string) (principalTargetOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts principalTargetOptions
	fs.Int64Var(&opts.ID, "id", 0, "Principal id (required)")
	if valueFlag != "" {
		fs.StringVar(&opts.Value, valueFlag, "", valueUsage)
	}
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for the command")

	if err := fs.Parse(args); err != nil {
		return principalTargetOptions{}, err
	}
	if opts.ID <= 0 {
		return principalTargetOptions{}, errors.New("--id must be a positive principal id")
	}
	if valueFlag != "" && strings.TrimSpace(opts.Value) == "" {
		return principalTargetOptions{}, fmt.Errorf("--%s is required", valueFlag)
	}
	return opts, nil
}

func runSetRole(cmdCtx *commandContext, args []string) error {
	opts, err := parsePrincipalTargetFlags("set-role", "role", "New role", args)
	if err != nil {
		return err
	}
	role, err := domainauth.ParseRole(opts.Value)
	if err != nil {
		return err
	}

	return withAuthService(cmdCtx, opts.Timeout, func(ctx context.Context, svc *service.AuthService) error {
		p, setErr := svc.SetRole(ctx, opts.ID, role)
		if setErr != nil {
			return setErr
		}
		return writef(os.Stdout, "Principal %d (%s) now has role %s\n", p.ID, p.Username, p.Role)
	})
}

func runSetStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parsePrincipalTargetFlags("set-status", "status", "active or disabled", args)
	if err != nil {
		return err
	}
	status := domainauth.Status(strings.ToLower(strings.TrimSpace(opts.Value)))
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", opts.Value)
	}

	return withAuthService(cmdCtx, opts.Timeout, func(ctx context.Context, svc *service.AuthService) error {
		p, setErr := svc.SetStatus(ctx, opts.ID, status)
		if setErr != nil {
			return setErr
		}
		return writef(os.Stdout, "Principal %d (%s) is now %s\n", p.ID, p.Username, p.Status)
	})
}

func runRevokeSessions(cmdCtx *commandContext, args []string) error {
	opts, err := parsePrincipalTargetFlags("revoke-sessions", "", "", args)
	if err != nil {
		return err
	}

	return withAuthService(cmdCtx, opts.Timeout, func(ctx context.Context, svc *service.AuthService) error {
		n, revokeErr := svc.LogoutAll(ctx, opts.ID)
		if revokeErr != nil {
			return revokeErr
		}
		return writef(os.Stdout, "Revoked %d session(s) of principal %d\n", n, opts.ID)
	})
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}
