package main

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/apitestkit/authcore/auth"
)

type authHeaderFlags struct {
	scheme    string
	username  string
	password  string
	token     string
	key       string
	name      string
	location  string
	prefix    string
	hawkID    string
	hawkKey   string
	hawkExt   string
	jwtSecret string
	jwtTTL    time.Duration
	challenge string
	method    string
}

// config assembles the scheme configuration from the flag values.
func (f *authHeaderFlags) config() (*auth.Config, error) {
	switch f.scheme {
	case "basic":
		return &auth.Config{Basic: &auth.BasicConfig{
			Username: f.username,
			Password: f.password,
		}}, nil
	case "bearer":
		return &auth.Config{Bearer: &auth.BearerConfig{Token: f.token}}, nil
	case "apikey":
		return &auth.Config{APIKey: &auth.APIKeyConfig{
			Key:      f.key,
			Name:     f.name,
			Location: auth.APIKeyLocation(f.location),
			Prefix:   f.prefix,
		}}, nil
	case "digest":
		return &auth.Config{Digest: &auth.DigestConfig{
			Username:  f.username,
			Password:  f.password,
			Challenge: f.challenge,
		}}, nil
	case "hawk":
		return &auth.Config{Hawk: &auth.HawkConfig{
			ID:  f.hawkID,
			Key: f.hawkKey,
			Ext: f.hawkExt,
		}}, nil
	case "jwt":
		return &auth.Config{JWT: &auth.JWTConfig{
			Token:  f.token,
			Secret: f.jwtSecret,
			TTL:    f.jwtTTL,
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", f.scheme)
	}
}

func newAuthCommand(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication dispatcher operations",
	}
	cmd.AddCommand(newAuthHeaderCommand(root))
	return cmd
}

func newAuthHeaderCommand(root *rootFlags) *cobra.Command {
	flags := &authHeaderFlags{}

	cmd := &cobra.Command{
		Use:   "header URL",
		Short: "Produce the authentication headers a scheme would apply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := root.newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := flags.config()
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), flags.method, args[0], nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}

			dispatcher := auth.NewDispatcher(auth.WithLogger(logger))
			result, err := dispatcher.Apply(cmd.Context(), req, cfg)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(result.Headers))
			for name := range result.Headers {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, result.Headers[name])
			}
			if len(result.Headers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), req.URL.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.scheme, "scheme", "basic",
		"scheme (basic, bearer, apikey, digest, hawk, jwt)")
	cmd.Flags().StringVarP(&flags.method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&flags.username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&flags.password, "password", "p", "", "password")
	cmd.Flags().StringVar(&flags.token, "token", "", "bearer or pre-issued JWT token")
	cmd.Flags().StringVar(&flags.key, "api-key", "", "API key value")
	cmd.Flags().StringVar(&flags.name, "api-key-name", "X-Api-Key", "API key header or parameter name")
	cmd.Flags().StringVar(&flags.location, "api-key-location", "header", "API key location (header, query, cookie)")
	cmd.Flags().StringVar(&flags.prefix, "api-key-prefix", "", "prefix applied to the API key value")
	cmd.Flags().StringVar(&flags.hawkID, "hawk-id", "", "Hawk credential id")
	cmd.Flags().StringVar(&flags.hawkKey, "hawk-key", "", "Hawk credential key")
	cmd.Flags().StringVar(&flags.hawkExt, "hawk-ext", "", "Hawk application extension data")
	cmd.Flags().StringVar(&flags.jwtSecret, "jwt-secret", "", "HS256 secret for local JWT generation")
	cmd.Flags().DurationVar(&flags.jwtTTL, "jwt-ttl", time.Hour, "generated JWT lifetime")
	cmd.Flags().StringVar(&flags.challenge, "challenge", "", "literal server challenge for digest")
	return cmd
}
