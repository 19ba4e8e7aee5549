package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apitestkit/authcore/cert"
)

func newCertCommand(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Certificate engine operations",
	}
	cmd.AddCommand(newCertValidateCommand(root))
	return cmd
}

func newCertValidateCommand(root *rootFlags) *cobra.Command {
	var (
		keyPath         string
		caPath          string
		passphrase      string
		allowSelfSigned bool
		allowExpired    bool
		checkRevocation bool
	)

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Run the validation pipeline on a certificate file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := root.newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			engine := cert.NewEngine(cert.WithEngineLogger(logger))
			info, err := engine.Load(cmd.Context(), cert.LoadInput{
				Path:       args[0],
				KeyPath:    keyPath,
				Passphrase: passphrase,
				CAPath:     caPath,
			})
			if err != nil {
				return err
			}

			result, err := engine.Validate(cmd.Context(), info, cert.ValidateOptions{
				AllowSelfSigned: allowSelfSigned,
				AllowExpired:    allowExpired,
				CAChain:         info.CAChain,
				CheckRevocation: checkRevocation,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Subject:     %s\n", result.Subject)
			fmt.Fprintf(out, "Issuer:      %s\n", result.Issuer)
			fmt.Fprintf(out, "Serial:      %s\n", result.SerialNumber)
			fmt.Fprintf(out, "Fingerprint: %s\n", result.FingerprintSHA256)
			fmt.Fprintf(out, "Not before:  %s\n", result.NotBefore)
			fmt.Fprintf(out, "Not after:   %s\n", result.NotAfter)
			fmt.Fprintf(out, "Algorithm:   %s\n", result.SignatureAlgorithm)
			if len(result.SubjectAltNames) > 0 {
				fmt.Fprintf(out, "SANs:        %s\n", strings.Join(result.SubjectAltNames, ", "))
			}
			if result.Revocation != nil {
				status := "good"
				if result.Revocation.Revoked {
					status = "revoked"
				}
				fmt.Fprintf(out, "Revocation:  %s (%s)\n", status, result.Revocation.Method)
			}
			for _, warning := range result.Warnings {
				fmt.Fprintf(out, "Warning:     %s\n", warning)
			}
			for _, failure := range result.Errors {
				fmt.Fprintf(out, "Error:       %s\n", failure)
			}

			if !result.Valid {
				return fmt.Errorf("certificate is not valid")
			}
			fmt.Fprintln(out, "Certificate is valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "separate private key file")
	cmd.Flags().StringVar(&caPath, "ca", "", "CA bundle file")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "key or container passphrase")
	cmd.Flags().BoolVar(&allowSelfSigned, "allow-self-signed", false, "accept self-signed certificates")
	cmd.Flags().BoolVar(&allowExpired, "allow-expired", false, "accept expired certificates")
	cmd.Flags().BoolVar(&checkRevocation, "check-revocation", false, "run the OCSP/CRL check")
	return cmd
}
