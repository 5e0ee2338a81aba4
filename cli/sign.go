package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/georgepadayatti/signpdf/config"
	"github.com/georgepadayatti/signpdf/keys"
	"github.com/georgepadayatti/signpdf/sign/signers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// signFlags contains the options of the sign command.
type signFlags struct {
	p12File     string
	passphrase  string
	sentinel    string
	strictASN1  bool
	signingTime string
}

func newSignCmd(a *app) *cobra.Command {
	var f signFlags

	cmd := &cobra.Command{
		Use:   "sign [flags] <input.pdf> <output.pdf>",
		Short: "Sign a prepared PDF",
		Long: `Sign a PDF that carries a ByteRange placeholder and an empty /Contents
hex string. The signature is a detached CMS SignedData over every byte of
the document outside the /Contents string.

Flags override the values of the configuration file.

Examples:
  signpdf sign --p12 signer.p12 --passphrase secret input.pdf output.pdf
  signpdf sign --config signpdf.yaml input.pdf output.pdf
  signpdf sign --p12 signer.p12 --strict-asn1 --signing-time 2026-01-02T15:04:05Z in.pdf out.pdf`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(cmd, a, &f, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&f.p12File, "p12", "", "PKCS#12 file holding the signing key and certificate")
	cmd.Flags().StringVarP(&f.passphrase, "passphrase", "p", "", "PKCS#12 passphrase")
	cmd.Flags().StringVar(&f.sentinel, "sentinel", "", "Placeholder text for each unknown ByteRange value")
	cmd.Flags().BoolVar(&f.strictASN1, "strict-asn1", false, "Reject PKCS#12 files that are not strict DER")
	cmd.Flags().StringVar(&f.signingTime, "signing-time", "", "Signing time (RFC 3339), defaults to now")

	return cmd
}

func runSign(cmd *cobra.Command, a *app, f *signFlags, inputPath, outputPath string) error {
	signing := a.cfg.Signing
	log := a.logger.WithField("input", inputPath)

	signer := &signers.Signer{
		PlaceholderSentinel: signing.PlaceholderSentinel,
		Logger:              log,
	}
	if cmd.Flags().Changed("sentinel") {
		if err := config.ValidateSentinel(f.sentinel); err != nil {
			return err
		}
		signer.PlaceholderSentinel = f.sentinel
	}

	opts := &signers.SignOptions{StrictASN1: signing.StrictASN1 || f.strictASN1}
	if f.signingTime != "" {
		t, err := time.Parse(time.RFC3339, f.signingTime)
		if err != nil {
			return fmt.Errorf("invalid signing time: %w", err)
		}
		opts.SigningTime = t
	}

	document, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	var result *signers.SignResult
	switch {
	case f.p12File != "" || signing.PKCS12 != nil:
		p12 := &config.PKCS12SignatureConfig{PFXFile: f.p12File, PFXPassphrase: f.passphrase}
		if signing.PKCS12 != nil {
			if f.p12File == "" {
				p12.PFXFile = signing.PKCS12.PFXFile
			}
			if !cmd.Flags().Changed("passphrase") {
				p12.PFXPassphrase = signing.PKCS12.PFXPassphrase
			}
		}
		container, err := p12.ReadContainer()
		if err != nil {
			return err
		}
		log.WithField("pfxFile", p12.PFXFile).Debug("Signing with PKCS#12 credential")
		opts.Passphrase = p12.Passphrase()
		result, err = signer.Sign(document, container, opts)
		if err != nil {
			return err
		}

	case signing.PKCS11 != nil:
		token, err := keys.OpenTokenCredential(signing.PKCS11.TokenOptions())
		if err != nil {
			return err
		}
		defer token.Close()
		log.WithField("module", signing.PKCS11.ModulePath).Debug("Signing with PKCS#11 credential")
		result, err = signer.SignWithCredential(document, token.Credential, opts.SigningTime)
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: use --p12 or a configuration file", config.ErrNoCredentialSource)
	}

	if err := os.WriteFile(outputPath, result.Document, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	log.WithFields(logrus.Fields{
		"output":    outputPath,
		"byteRange": [4]int(result.ByteRange),
	}).Info("Document signed")
	fmt.Fprintf(cmd.OutOrStdout(), "Successfully signed PDF: %s\n", outputPath)
	return nil
}
