// Command jwtdebug diagnoses bearer-token verification problems against the
// identity provider's published signing keys.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/bookshelf-api/config"
	"github.com/upb/bookshelf-api/tokenauth"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		os.Exit(1)
	}
}

type options struct {
	authority string
	tenant    string
	clientID  string
	endpoints []string
	timeout   time.Duration
	retries   int
	relaxed   bool
	verbose   bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "jwtdebug",
		Short: "Inspect signing keys and bearer tokens",
		Long: `jwtdebug fetches the identity provider's signing keys and shows, step by
step, how a bearer token is decoded, matched to a key and validated by each
issuer/audience strategy the API tolerates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.authority, "authority", envOr("AZURE_AUTHORITY", tokenauth.DefaultAuthority), "identity provider authority URL")
	flags.StringVar(&opts.tenant, "tenant", os.Getenv("AZURE_TENANT_ID"), "directory (tenant) ID")
	flags.StringVar(&opts.clientID, "client-id", os.Getenv("AZURE_CLIENT_ID"), "application (client) ID expected as audience")
	flags.StringArrayVar(&opts.endpoints, "endpoint", nil, "JWKS endpoint, repeatable; tried in order (default derived from --tenant)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout per key fetch attempt")
	flags.IntVar(&opts.retries, "retries", 2, "retries per endpoint")
	flags.BoolVar(&opts.relaxed, "relaxed", false, "let the verifier fall back to strategies that skip issuer or audience")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log key fetches")

	cmd.AddCommand(
		newKeysCommand(opts),
		newDecodeCommand(),
		newVerifyCommand(opts),
	)
	return cmd
}

func (o *options) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func (o *options) jwksEndpoints() []string {
	auth := config.AuthConfig{
		Authority:     o.authority,
		TenantID:      o.tenant,
		JWKSEndpoints: o.endpoints,
	}
	return auth.Endpoints()
}

func (o *options) keySource(logger *zap.Logger) *tokenauth.HTTPKeySource {
	return tokenauth.NewHTTPKeySource(tokenauth.KeySourceConfig{
		Endpoints:  o.jwksEndpoints(),
		Timeout:    o.timeout,
		MaxRetries: o.retries,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}, logger, nil)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
