package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"kpipolicy/internal/clock"
	"kpipolicy/internal/config"
	"kpipolicy/internal/domain"
	"kpipolicy/internal/logging"
	"kpipolicy/internal/policy"
	"kpipolicy/internal/rulestore"
)

const usage = `usage: policyctl (--config-file FILE | --config-dir DIR) <command> [args]

commands:
  list                         print all rules as JSON
  get ID                       print one rule
  apply FILE                   bulk upsert a JSON array of rules ("-" reads stdin)
  delete ID                    delete one rule
  export [FILE]                write snapshot to FILE or stdout
  restore FILE                 replace all rules from snapshot ("-" reads stdin)
  evaluate [--roles R,..] FILE evaluate one alert JSON ("-" reads stdin)
`

var errUsage = errors.New("usage")

// main runs one admin command against the configured rule store.
// Params: CLI flags and command arguments.
// Returns: exit code 0 on success, 1 on failure, 2 on usage error.
func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run parses arguments and executes one command.
// Params: context, arguments without program name, and standard streams.
// Returns: process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("policyctl", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	configFile := flags.String("config-file", "", "path to one TOML config file")
	configDir := flags.String("config-dir", "", "path to directory with TOML config fragments")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 2
	}
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "load config:", err.Error())
		return 1
	}
	logger, err := logging.NewConsole(stderr, "warn", "line")
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	clk, err := clock.ForZone(cfg.Service.Timezone)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	repo, err := rulestore.Open(ctx, cfg.Store, nil)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer repo.Close()

	cli := &commands{
		policy: policy.New(repo, clk, nil, logger, nil),
		stdin:  stdin,
		stdout: stdout,
	}
	if err := cli.dispatch(ctx, flags.Arg(0), flags.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			_, _ = fmt.Fprintln(stderr, err.Error())
			_, _ = fmt.Fprint(stderr, usage)
			return 2
		}
		_, _ = fmt.Fprintln(stderr, "error:", err.Error())
		return 1
	}
	return 0
}

type commands struct {
	policy *policy.Service
	stdin  io.Reader
	stdout io.Writer
}

// dispatch runs one named command.
func (c *commands) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "list":
		rules, err := c.policy.ListRules(ctx)
		if err != nil {
			return err
		}
		return c.writeJSON(rules)
	case "get":
		if len(args) != 1 {
			return fmt.Errorf("%w: get needs exactly one rule id", errUsage)
		}
		rule, found, err := c.policy.GetRule(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("rule %q not found", args[0])
		}
		return c.writeJSON(rule)
	case "apply":
		if len(args) != 1 {
			return fmt.Errorf("%w: apply needs one rules file", errUsage)
		}
		body, err := c.readInput(args[0])
		if err != nil {
			return err
		}
		var rules []domain.Rule
		if err := json.Unmarshal(body, &rules); err != nil {
			return fmt.Errorf("%w: decode rules: %v", domain.ErrValidation, err)
		}
		return c.policy.BulkUpsertRules(ctx, rules)
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("%w: delete needs exactly one rule id", errUsage)
		}
		return c.policy.DeleteRule(ctx, args[0])
	case "export":
		if len(args) > 1 {
			return fmt.Errorf("%w: export takes at most one output file", errUsage)
		}
		body, err := c.policy.ExportSnapshot(ctx)
		if err != nil {
			return err
		}
		if len(args) == 1 && args[0] != "-" {
			return os.WriteFile(args[0], body, 0o644)
		}
		_, err = c.stdout.Write(body)
		return err
	case "restore":
		if len(args) != 1 {
			return fmt.Errorf("%w: restore needs one snapshot file", errUsage)
		}
		body, err := c.readInput(args[0])
		if err != nil {
			return err
		}
		return c.policy.RestoreSnapshot(ctx, body)
	case "evaluate":
		return c.evaluate(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

// evaluate decides one alert read from file or stdin.
func (c *commands) evaluate(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	roles := flags.String("roles", "", "comma-separated caller roles")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("%w: evaluate needs one alert file", errUsage)
	}
	body, err := c.readInput(flags.Arg(0))
	if err != nil {
		return err
	}
	var alert domain.Alert
	if err := json.Unmarshal(body, &alert); err != nil {
		return fmt.Errorf("%w: decode alert: %v", domain.ErrValidation, err)
	}
	decision, err := c.policy.Evaluate(ctx, alert, domain.ParseRoles(*roles))
	if err != nil {
		return err
	}
	return c.writeJSON(decision)
}

// readInput reads a named file, or stdin for "-".
func (c *commands) readInput(name string) ([]byte, error) {
	if strings.TrimSpace(name) == "-" {
		return io.ReadAll(c.stdin)
	}
	return os.ReadFile(name)
}

func (c *commands) writeJSON(value any) error {
	encoder := json.NewEncoder(c.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
