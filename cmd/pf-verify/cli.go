package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 2
	}

	switch args[1] {
	case "verify":
		return runVerify(args[2:])
	case "inspect":
		return runInspect(args[2:])
	case "sign":
		return runSign(args[2:])
	case "keygen":
		return runKeygen(args[2:])
	case "policy":
		if len(args) >= 3 && args[2] == "check" {
			return runPolicyCheck(args[3:])
		}
	}

	usage(args)
	return 2
}

func usage(args []string) {
	name := "pf-verify"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s verify --receipt <file> --policy <file> --keys <file> [--format markdown|json] [--out <file>] [--threshold <n>] [--require-transparency] [--engine native|rego]\n", name)
	fmt.Fprintf(os.Stderr, "  %s inspect --receipt <file>\n", name)
	fmt.Fprintf(os.Stderr, "  %s sign --receipt <file> --key-id <id> (--key-hex <hex>|--key-base64 <b64>) [--algorithm ED25519|ECDSA_P256] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s keygen --key-id <id> [--algorithm ED25519] [--out <keyset.json>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s policy check --policy <file> [--engine native|rego]\n", name)
}
