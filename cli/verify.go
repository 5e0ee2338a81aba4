package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/georgepadayatti/signpdf/sign/validation"
	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "verify [flags] <input.pdf>",
		Short: "Verify the signature of a signed PDF",
		Long: `Verify the detached CMS signature stored in a signed PDF against the
byte ranges it declares. The exit status is 1 when the signature does not
verify.

Examples:
  signpdf verify document.pdf
  signpdf verify --json document.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, a, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the result as JSON")

	return cmd
}

func runVerify(cmd *cobra.Command, a *app, inputPath string, jsonOutput bool) error {
	document, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	log := a.logger.WithField("input", inputPath)
	outcome := (&validation.Verifier{Logger: log}).Verify(document)

	if outcome.Verified {
		log.WithField("signer", outcome.SignerName).Info("Signature verified")
	} else {
		log.WithField("reason", outcome.Message).Info("Signature not verified")
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		printOutcome(cmd, inputPath, outcome)
	}

	if !outcome.Verified {
		return ErrNotVerified
	}
	return nil
}

func printOutcome(cmd *cobra.Command, inputPath string, outcome validation.Outcome) {
	out := cmd.OutOrStdout()
	if !outcome.Verified {
		fmt.Fprintf(out, "%s: INVALID\n", inputPath)
		fmt.Fprintf(out, "  Reason: %s\n", outcome.Message)
		return
	}

	fmt.Fprintf(out, "%s: VALID\n", inputPath)
	if outcome.SignerName != "" {
		fmt.Fprintf(out, "  Signer: %s\n", outcome.SignerName)
	}
	if outcome.SigningTime != nil {
		fmt.Fprintf(out, "  Signing time: %s\n", outcome.SigningTime.Format(time.RFC3339))
	}
	if outcome.ByteRange != nil {
		fmt.Fprintf(out, "  Byte range: %v\n", [4]int(*outcome.ByteRange))
	}
}
