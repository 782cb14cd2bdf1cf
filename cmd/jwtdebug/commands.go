package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/upb/bookshelf-api/tokenauth"
)

// payload claims worth showing when diagnosing a token
var relevantClaims = []string{"iss", "aud", "exp", "name", "preferred_username", "email", "sub", "tid"}

var (
	pass    = color.New(color.FgGreen, color.Bold).SprintFunc()
	fail    = color.New(color.FgRed, color.Bold).SprintFunc()
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
)

func newKeysCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Fetch the signing key set and list its keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeys(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
}

func newDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Decode a token without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd.OutOrStdout(), args[0], time.Now())
		},
	}
}

func newVerifyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Run every validation strategy against a token, then the full verifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}
}

func runKeys(ctx context.Context, out io.Writer, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	source := opts.keySource(opts.logger())

	fmt.Fprintln(out, heading("Signing keys"))
	for _, endpoint := range source.Endpoints() {
		fmt.Fprintf(out, "  endpoint  %s\n", faint(endpoint))
	}

	set, err := source.FetchKeys(ctx)
	if err != nil {
		fmt.Fprintf(out, "%s %v\n", fail("FAIL"), err)
		return fmt.Errorf("fetch signing keys: %w", err)
	}

	fmt.Fprintf(out, "%s %d key(s) from %s\n", pass("OK"), len(set.Keys), set.Source)
	for _, key := range set.Keys {
		alg := key.Algorithm
		if alg == "" {
			alg = "-"
		}
		fmt.Fprintf(out, "  kid=%s kty=%s alg=%s\n", key.KeyID, key.KeyType, alg)
	}
	return nil
}

func runDecode(out io.Writer, token string, now time.Time) error {
	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if parsed == nil {
		return fmt.Errorf("decode token: %w", err)
	}
	if err != nil {
		// header and payload decoded; the algorithm is unknown to the parser
		fmt.Fprintf(out, "%s %v\n", fail("WARN"), err)
	}

	fmt.Fprintln(out, heading("Header"))
	if err := writeJSON(out, parsed.Header); err != nil {
		return err
	}

	filtered := make(map[string]interface{}, len(relevantClaims))
	for _, name := range relevantClaims {
		if value, ok := claims[name]; ok {
			filtered[name] = value
		}
	}
	fmt.Fprintln(out, heading("Payload (filtered)"))
	if err := writeJSON(out, filtered); err != nil {
		return err
	}

	exp, err := claims.GetExpirationTime()
	switch {
	case err != nil:
		fmt.Fprintf(out, "%s invalid exp claim: %v\n", fail("FAIL"), err)
	case exp == nil:
		fmt.Fprintf(out, "%s token has no exp claim\n", fail("FAIL"))
	default:
		fmt.Fprintf(out, "expires   %s\n", exp.UTC().Format(time.RFC3339))
		fmt.Fprintf(out, "now       %s\n", now.UTC().Format(time.RFC3339))
		if exp.Before(now) {
			fmt.Fprintf(out, "%s token expired %s ago\n", fail("EXPIRED"), now.Sub(exp.Time).Round(time.Second))
		} else {
			fmt.Fprintf(out, "%s token valid for %s\n", pass("VALID"), exp.Sub(now).Round(time.Second))
		}
	}
	return nil
}

func runVerify(ctx context.Context, out io.Writer, opts *options, token string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.logger()

	header, err := tokenauth.ParseHeader(token)
	if err != nil {
		fmt.Fprintf(out, "%s %v\n", fail("FAIL"), err)
		return fmt.Errorf("token header: %w", err)
	}
	fmt.Fprintf(out, "%s kid=%s alg=%s\n", heading("Token"), header.KeyID, header.Algorithm)

	keys := tokenauth.NewCachingKeySource(opts.keySource(logger), tokenauth.CacheConfig{TTL: time.Minute}, logger, nil)
	set, _, err := keys.Keys(ctx)
	if err != nil {
		fmt.Fprintf(out, "%s %v\n", fail("FAIL"), err)
		return fmt.Errorf("fetch signing keys: %w", err)
	}
	fmt.Fprintf(out, "%s %d key(s) from %s\n", heading("Keys"), len(set.Keys), set.Source)

	key, rejections, err := tokenauth.SelectKey(header, set)
	for _, r := range rejections {
		fmt.Fprintf(out, "  skipped key #%d: %s\n", r.Index, r.Reason)
	}
	if err != nil {
		fmt.Fprintf(out, "%s %v\n", fail("FAIL"), err)
		fmt.Fprintf(out, "  available kids: %v\n", set.KeyIDs())
	} else {
		fmt.Fprintf(out, "%s matched kid %s\n", pass("OK"), key.KeyID)

		fmt.Fprintln(out, heading("Strategies"))
		sequencer := tokenauth.NewSequencer(nil)
		for _, strategy := range tokenauth.DefaultStrategies(opts.authority, opts.tenant, opts.clientID, true) {
			_, _, err := sequencer.Validate(token, key, []tokenauth.ValidationStrategy{strategy})
			if err == nil {
				fmt.Fprintf(out, "  %s %s\n", pass("PASS"), strategy.Name)
				continue
			}
			fmt.Fprintf(out, "  %s %s: %s\n", fail("FAIL"), strategy.Name, strategyReason(err))
		}
	}

	verifier := tokenauth.NewVerifier(tokenauth.VerifierConfig{
		Strategies: tokenauth.DefaultStrategies(opts.authority, opts.tenant, opts.clientID, opts.relaxed),
	}, keys, logger)

	fmt.Fprintln(out, heading("Verifier"))
	identity, err := verifier.Verify(ctx, token)
	if err != nil {
		fmt.Fprintf(out, "%s %s: %v\n", fail("REJECTED"), tokenauth.KindOf(err), err)
		return fmt.Errorf("token rejected: %s", tokenauth.KindOf(err))
	}
	fmt.Fprintf(out, "%s level=%s\n", pass("ACCEPTED"), identity.ValidationLevel)
	return writeJSON(out, identity)
}

func strategyReason(err error) string {
	var authErr *tokenauth.AuthError
	if errors.As(err, &authErr) && len(authErr.Strategies) > 0 {
		return authErr.Strategies[0].Reason
	}
	return err.Error()
}

func writeJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
