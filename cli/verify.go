package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/georgepadayatti/mdsign/config"
	"github.com/georgepadayatti/mdsign/sign/validation"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	JSON           bool
	TrustStore     string
	TrustStoreType string
	Password       string
}

func newVerifyCommand(flags *GlobalFlags) *cobra.Command {
	var opts VerifyOptions

	cmd := &cobra.Command{
		Use:   "verify [options] <input>",
		Short: "Verify the signatures of a document",
		Long: `Verify every signature embedded in a document. The command exits with
status 1 when the document has no signatures or any signature is invalid.`,
		Example: `  mdsign verify notes.signed.md
  mdsign verify --json notes.signed.md
  mdsign verify --truststore anchors.jks --truststore-type jks --truststore-password changeit notes.signed.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, flags, &opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	cmd.Flags().StringVar(&opts.TrustStore, "truststore", "", "Trust anchor file, overrides the configured trust store")
	cmd.Flags().StringVar(&opts.TrustStoreType, "truststore-type", config.TrustStorePEM, "Trust store type: pem, pkcs12, jks")
	cmd.Flags().StringVar(&opts.Password, "truststore-password", "", "Trust store password")
	return cmd
}

func runVerify(cmd *cobra.Command, flags *GlobalFlags, opts *VerifyOptions, input string) error {
	a, err := newApp(flags, appOptions{
		override: func(cfg *config.AppConfig) {
			if opts.TrustStore != "" {
				cfg.Validation.TrustStore = &config.TrustStoreConfig{
					Type:     opts.TrustStoreType,
					Path:     opts.TrustStore,
					Password: opts.Password,
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := readInput(cmd.InOrStdin(), input)
	if err != nil {
		return err
	}

	results := a.service.Verify(raw)
	if opts.JSON {
		if err := outputJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		outputText(cmd.OutOrStdout(), results)
	}

	if !validation.AllValid(results) {
		return errInvalidSignatures
	}
	return nil
}

// outputJSON outputs the results in JSON format.
func outputJSON(w io.Writer, results []validation.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// outputText outputs the results in human-readable text format.
func outputText(w io.Writer, results []validation.Result) {
	valid := color.New(color.FgGreen, color.Bold)
	invalid := color.New(color.FgRed, color.Bold)

	fmt.Fprintf(w, "Document Verification Results\n")
	fmt.Fprintf(w, "=============================\n\n")

	for i, r := range results {
		fmt.Fprintf(w, "Signature #%d\n", i+1)
		fmt.Fprintf(w, "------------\n")
		if r.Valid {
			fmt.Fprintf(w, "  Status: %s\n", valid.Sprint("✓ VALID"))
		} else {
			fmt.Fprintf(w, "  Status: %s\n", invalid.Sprint("✗ INVALID"))
		}
		if signer := r.Signer(); signer != "" {
			fmt.Fprintf(w, "  Signer: %s\n", signer)
		}
		fmt.Fprintf(w, "  Message: %s\n\n", r.Message)
	}

	n := 0
	for _, r := range results {
		if r.Valid {
			n++
		}
	}
	summary := fmt.Sprintf("%d of %d signature(s) valid", n, len(results))
	if validation.AllValid(results) {
		fmt.Fprintln(w, valid.Sprint(summary))
	} else {
		fmt.Fprintln(w, invalid.Sprint(summary))
	}
}
