package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/credentials"
)

// AuthCommandDeps holds the dependencies for the auth commands.
type AuthCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	OpenStore  func() (*credentials.Store, error)
}

// DefaultAuthDeps returns the default dependencies for production use.
func DefaultAuthDeps(loadConfig func() (*config.CLIConfig, error)) *AuthCommandDeps {
	return &AuthCommandDeps{
		LoadConfig: loadConfig,
		OpenStore:  credentials.NewStore,
	}
}

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *AuthCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage engine API tokens",
		Long: `Manage the API tokens sent to recognition and diarization backends.

An engine uses a token when its token_name is set in the configuration:

  diarizer:
    backend: http
    url: https://diarize.example.com/v1/diarize
    token_name: huggingface

Tokens are stored encrypted in ~/.turnscribe/credentials.yaml. The key comes
from TURNSCRIBE_ENCRYPTION_KEY, the system keyring, or a passphrase in
TURNSCRIBE_PASSPHRASE, in that order.

Environment variables take precedence over stored tokens: token "huggingface"
is read from TURNSCRIBE_TOKEN_HUGGINGFACE, then HUGGING_FACE_HUB_TOKEN.`,
	}

	cmd.AddCommand(newAuthSetCommand(deps))
	cmd.AddCommand(newAuthListCommand(deps))
	cmd.AddCommand(newAuthRemoveCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))

	return cmd
}

func newAuthSetCommand(deps *AuthCommandDeps) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a token",
		Long: `Store a token under name, replacing any previous value.

Without --value the token is read from the terminal with echo disabled, or
as one line from stdin when stdin is not a terminal.`,
		Example: `  turnscribe auth set huggingface
  echo "$HF_TOKEN" | turnscribe auth set huggingface`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := credentials.ValidateName(name); err != nil {
				return err
			}

			if value == "" {
				v, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Token for %s: ", name))
				if err != nil {
					return err
				}
				value = v
			}
			if value == "" {
				return errors.New("no token provided")
			}

			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if err := store.Set(name, value); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Stored token %s (%s).\n", name, credentials.Mask(value))
			if _, ok := credentials.ResolveEnv(name); ok {
				fmt.Fprintf(out, "Note: an environment variable overrides it (%s).\n", credentials.EnvVar(name))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "Token value (visible in shell history; prefer the prompt)")

	return cmd
}

func newAuthListCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List stored tokens",
		Example: `  turnscribe auth list`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			names, updated, err := store.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No tokens stored.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tUPDATED\tOVERRIDDEN BY ENV")
			for _, name := range names {
				override := "-"
				if _, ok := credentials.ResolveEnv(name); ok {
					override = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, updated[name].Local().Format(time.RFC3339), override)
			}
			return tw.Flush()
		},
	}
}

func newAuthRemoveCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Short:   "Remove a stored token",
		Aliases: []string{"rm"},
		Example: `  turnscribe auth remove huggingface`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed token %s.\n", args[0])
			return nil
		},
	}
}

func newAuthStatusCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which tokens the configured engines will use",
		Long: `Show the credential store and, for each configured engine with a
token_name, where its token resolves from.`,
		Example: `  turnscribe auth status`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			return runAuthStatus(cmd.OutOrStdout(), deps, cfg)
		},
	}
}

func runAuthStatus(out io.Writer, deps *AuthCommandDeps, cfg *config.CLIConfig) error {
	fmt.Fprintln(out, "Credential Status")
	fmt.Fprintln(out, "=================")

	store, storeErr := deps.OpenStore()
	if storeErr != nil {
		fmt.Fprintf(out, "Store:   unavailable (%v)\n", storeErr)
	} else {
		fmt.Fprintf(out, "Store:   %s\n", store.Path())
		fmt.Fprintf(out, "Key:     %s\n", store.KeyDescription())
	}
	fmt.Fprintln(out)

	engines := []struct {
		role string
		ec   config.EngineConfig
	}{
		{"recognizer", cfg.Recognizer},
		{"diarizer", cfg.Diarizer},
	}

	missing := 0
	for _, e := range engines {
		fmt.Fprintf(out, "%s (%s): ", e.role, e.ec.Backend)
		if e.ec.TokenName == "" {
			fmt.Fprintln(out, "no token required")
			continue
		}

		if v, ok := credentials.ResolveEnv(e.ec.TokenName); ok {
			fmt.Fprintf(out, "%s from environment (%s)\n", e.ec.TokenName, credentials.Mask(v))
			continue
		}
		if storeErr != nil {
			fmt.Fprintf(out, "%s unresolved (store unavailable)\n", e.ec.TokenName)
			missing++
			continue
		}
		v, err := store.Get(e.ec.TokenName)
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s stored (%s)\n", e.ec.TokenName, credentials.Mask(v))
		case errors.Is(err, credentials.ErrNoCredentials):
			fmt.Fprintf(out, "%s MISSING\n", e.ec.TokenName)
			missing++
		default:
			fmt.Fprintf(out, "%s unreadable (%v)\n", e.ec.TokenName, err)
			missing++
		}
	}

	if missing > 0 {
		fmt.Fprintf(out, "\n%d token(s) missing. Run 'turnscribe auth set <name>'.\n", missing)
	}
	return nil
}

// readSecret prompts on a terminal with echo off, or reads one line from a
// non-terminal reader.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
