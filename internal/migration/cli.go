package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

// CLI 把 Migrator 包装成 `agenttree migrate <cmd>` 的终端输出
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI 输出到 stdout
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput 替换输出目标
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// subcommand 一个子命令；arg 非空时要求恰好一个整数参数
type subcommand struct {
	name  string
	arg   string
	usage string
	run   func(c *CLI, ctx context.Context, n int) error
}

var subcommands = []subcommand{
	{name: "up", usage: "apply all pending migrations", run: (*CLI).up},
	{name: "down", usage: "roll back the last migration", run: (*CLI).down},
	{name: "down-all", usage: "roll back every migration", run: (*CLI).downAll},
	{name: "steps", arg: "N", usage: "apply (N>0) or roll back (N<0) N migrations", run: (*CLI).steps},
	{name: "goto", arg: "V", usage: "migrate to version V", run: (*CLI).gotoVersion},
	{name: "force", arg: "V", usage: "set version V without running migrations", run: (*CLI).force},
	{name: "version", usage: "print the current version", run: (*CLI).version},
	{name: "status", usage: "list migrations and their state", run: (*CLI).status},
	{name: "info", usage: "print a summary", run: (*CLI).info},
}

// Usage 子命令说明
var Usage = func() string {
	var b strings.Builder
	b.WriteString("usage: agenttree migrate <command>\n\ncommands:")
	for _, sc := range subcommands {
		fmt.Fprintf(&b, "\n  %-14s %s", strings.TrimSpace(sc.name+" "+sc.arg), sc.usage)
	}
	return b.String()
}()

// Run 按子命令分派
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migrate command\n%s", Usage)
	}
	name, rest := args[0], args[1:]
	for _, sc := range subcommands {
		if sc.name != name {
			continue
		}
		n, err := sc.parseArg(rest)
		if err != nil {
			return err
		}
		return sc.run(c, ctx, n)
	}
	return fmt.Errorf("unknown migrate command %q\n%s", name, Usage)
}

func (sc subcommand) parseArg(rest []string) (int, error) {
	if sc.arg == "" {
		return 0, nil
	}
	if len(rest) != 1 {
		return 0, fmt.Errorf("%s needs exactly one argument", sc.name)
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", sc.name, rest[0])
	}
	return n, nil
}

// afterward 打印操作完成后的当前版本
func (c *CLI) afterward(ctx context.Context, done string) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "%s. Current version: %d\n", done, info.CurrentVersion)
	return nil
}

func (c *CLI) up(ctx context.Context, _ int) error {
	fmt.Fprintln(c.output, "Running migrations...")
	if err := c.migrator.Up(ctx); err != nil {
		return err
	}
	return c.afterward(ctx, "Migrations complete")
}

func (c *CLI) down(ctx context.Context, _ int) error {
	fmt.Fprintln(c.output, "Rolling back last migration...")
	if err := c.migrator.Down(ctx); err != nil {
		return err
	}
	return c.afterward(ctx, "Rollback complete")
}

func (c *CLI) downAll(ctx context.Context, _ int) error {
	fmt.Fprintln(c.output, "Rolling back all migrations...")
	if err := c.migrator.DownAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.output, "All migrations rolled back.")
	return nil
}

func (c *CLI) steps(ctx context.Context, n int) error {
	verb, count := "Applying", n
	if n < 0 {
		verb, count = "Rolling back", -n
	}
	fmt.Fprintf(c.output, "%s %d migration(s)...\n", verb, count)
	if err := c.migrator.Steps(ctx, n); err != nil {
		return err
	}
	return c.afterward(ctx, "Complete")
}

func (c *CLI) gotoVersion(ctx context.Context, v int) error {
	if v < 0 {
		return fmt.Errorf("goto: version must be non-negative")
	}
	fmt.Fprintf(c.output, "Migrating to version %d...\n", v)
	if err := c.migrator.Goto(ctx, uint(v)); err != nil {
		return err
	}
	return c.afterward(ctx, "Migration complete")
}

func (c *CLI) force(ctx context.Context, v int) error {
	if err := c.migrator.Force(ctx, v); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Version forced to %d\n", v)
	return nil
}

func (c *CLI) version(ctx context.Context, _ int) error {
	v, dirty, err := c.migrator.Version(ctx)
	switch {
	case err != nil:
		return err
	case v == 0:
		fmt.Fprintln(c.output, "No migrations applied yet.")
	case dirty:
		fmt.Fprintf(c.output, "Current version: %d (dirty)\n", v)
	default:
		fmt.Fprintf(c.output, "Current version: %d\n", v)
	}
	return nil
}

func (s MigrationStatus) state() string {
	switch {
	case s.Dirty:
		return "Dirty"
	case s.Applied:
		return "Applied"
	}
	return "Pending"
}

func (c *CLI) status(ctx context.Context, _ int) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	tw := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		if s.Applied {
			applied++
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, s.state())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}

func (c *CLI) info(ctx context.Context, _ int) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.output, 0, 0, 1, ' ', 0)
	fmt.Fprintln(tw, "Migration Information:")
	fmt.Fprintf(tw, "  Current Version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(tw, "  Dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(tw, "  Total Migrations:\t%d\n", info.TotalMigrations)
	fmt.Fprintf(tw, "  Applied Migrations:\t%d\n", info.AppliedMigrations)
	fmt.Fprintf(tw, "  Pending Migrations:\t%d\n", info.PendingMigrations)
	return tw.Flush()
}
