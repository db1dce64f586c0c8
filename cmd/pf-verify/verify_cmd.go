package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/internal/infra/crypto"
	"github.com/codebatai/pf-verify/internal/infra/keystore"
	"github.com/codebatai/pf-verify/internal/infra/merkle"
	"github.com/codebatai/pf-verify/internal/infra/policy"
	"github.com/codebatai/pf-verify/internal/infra/policyrego"
	"github.com/codebatai/pf-verify/internal/report"
	"github.com/codebatai/pf-verify/internal/usecase"
	"github.com/codebatai/pf-verify/pkg/receipt"
)

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var receiptPath string
	var policyPath string
	var keysPath string
	var format string
	var outPath string
	var engine string
	var threshold int
	var requireTransparency bool

	fs.StringVar(&receiptPath, "receipt", "", "receipt JSON file")
	fs.StringVar(&policyPath, "policy", "", "policy document (YAML/JSON) or rego bundle directory")
	fs.StringVar(&keysPath, "keys", "", "trusted key set JSON file")
	fs.StringVar(&format, "format", "markdown", "report format: markdown or json")
	fs.StringVar(&outPath, "out", "", "report output path (default stdout)")
	fs.StringVar(&engine, "engine", "native", "policy engine: native or rego")
	fs.IntVar(&threshold, "threshold", 0, "required number of distinct verifying keys")
	fs.BoolVar(&requireTransparency, "require-transparency", false, "fail receipts without an inclusion proof")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if receiptPath == "" || policyPath == "" || keysPath == "" {
		fmt.Fprintln(os.Stderr, "verify requires --receipt, --policy, and --keys")
		return 2
	}
	if format != "markdown" && format != "json" {
		fmt.Fprintf(os.Stderr, "unknown format %q\n", format)
		return 2
	}

	eval, err := loadEvaluator(engine, policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load policy: %v\n", err)
		return 2
	}
	keys, err := keystore.LoadFile(keysPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load keys: %v\n", err)
		return 2
	}
	payload, err := os.ReadFile(receiptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read receipt: %v\n", err)
		return 2
	}

	var verdict domain.Verdict
	var parsed domain.Receipt
	if decoded, err := receipt.Decode(payload); err != nil {
		verdict = domain.Verdict{
			Outcome: domain.OutcomeMalformedReceipt,
			Reasons: []string{err.Error()},
		}
	} else {
		parsed = decoded
		uc := usecase.VerifyReceipt{
			Encoder: crypto.Codec{},
			Crypto:  crypto.NewVerifier(),
			Merkle:  &merkle.Service{},
		}
		verdict, err = uc.Execute(context.Background(), usecase.VerifyRequest{
			Receipt:             parsed,
			Keys:                keys,
			Policy:              eval,
			Threshold:           threshold,
			RequireTransparency: requireTransparency,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "verify: %v\n", err)
			return 2
		}
	}

	rep := report.Build(verdict, parsed, keys, time.Now().UTC())
	var out []byte
	if format == "json" {
		out, err = rep.JSON()
		if err != nil {
			fmt.Fprintf(os.Stderr, "render report: %v\n", err)
			return 2
		}
		out = append(out, '\n')
	} else {
		out = []byte(rep.Markdown())
	}
	if err := writeOutput(outPath, out); err != nil {
		fmt.Fprintf(os.Stderr, "write report: %v\n", err)
		return 2
	}

	if verdict.Passed() {
		return 0
	}
	return 1
}

func loadEvaluator(engine, policyPath string) (usecase.PolicyEvaluator, error) {
	switch engine {
	case "", "native":
		return policy.LoadFile(policyPath)
	case "rego":
		return policyrego.NewEngineFromBundlePath(context.Background(), policyPath)
	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
}

func writeOutput(path string, payload []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(payload)
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}
