package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/mdsign/config"
)

// SignOptions contains options for the sign command.
type SignOptions struct {
	Metadata     []string
	KeyFile      string
	CertFile     string
	ChainFiles   []string
	ValidityDays int
	Precheck     bool
}

func newSignCommand(flags *GlobalFlags) *cobra.Command {
	var opts SignOptions

	cmd := &cobra.Command{
		Use:   "sign [options] <input> [output]",
		Short: "Add a signature to a document",
		Long: `Sign the body of a document and append the signature to its header.
Existing header fields and signatures are kept. Use "-" to read the input
from stdin. Without an output path the signed document is written to stdout.`,
		Example: `  mdsign sign --config mdsign.yaml notes.md notes.signed.md
  mdsign sign --key signer.key --cert signer.crt --meta purpose=approval notes.md
  cat notes.md | mdsign sign -c mdsign.yaml -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(cmd, flags, &opts, args)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Metadata, "meta", "m", nil, "Signature metadata as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.KeyFile, "key", "", "Private key file (PEM or DER), overrides the configured keystore")
	cmd.Flags().StringVar(&opts.CertFile, "cert", "", "Signer certificate file (PEM or DER), used with --key")
	cmd.Flags().StringArrayVar(&opts.ChainFiles, "chain", nil, "Further chain certificate files (repeatable)")
	cmd.Flags().IntVar(&opts.ValidityDays, "validity-days", 0, "Days until the new signature expires")
	cmd.Flags().BoolVar(&opts.Precheck, "precheck", false, "Validate the signer certificate against the trust store before signing")
	cmd.MarkFlagsRequiredTogether("key", "cert")
	return cmd
}

func runSign(cmd *cobra.Command, flags *GlobalFlags, opts *SignOptions, args []string) error {
	metadata, err := parseMetadata(opts.Metadata)
	if err != nil {
		return err
	}

	a, err := newApp(flags, appOptions{
		loadKeystore: true,
		override: func(cfg *config.AppConfig) {
			if opts.KeyFile != "" {
				cfg.Signing.Keystore = &config.KeystoreConfig{
					Type: config.KeystorePemDer,
					PemDer: &config.PemDerSignatureConfig{
						KeyFile:          opts.KeyFile,
						CertFile:         opts.CertFile,
						OtherCertsFiles:  opts.ChainFiles,
						PromptPassphrase: true,
					},
				}
			}
			if opts.ValidityDays != 0 {
				cfg.Signing.ValidityDays = opts.ValidityDays
			}
			if opts.Precheck {
				cfg.Signing.PrecheckCertificate = true
			}
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	signed, err := a.service.Sign(raw, metadata)
	if err != nil {
		return fmt.Errorf("failed to sign document: %w", err)
	}

	if len(args) < 2 {
		_, err = fmt.Fprint(cmd.OutOrStdout(), signed)
		return err
	}
	if err := os.WriteFile(args[1], []byte(signed), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Successfully signed document: %s\n", args[1])
	return nil
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	md := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", pair)
		}
		md[k] = v
	}
	return md, nil
}
