package main

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/internal/infra/keystore"
	"github.com/codebatai/pf-verify/pkg/receipt"
)

func runKeygen(args []string) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var keyID string
	var algorithm string
	var outPath string

	fs.StringVar(&keyID, "key-id", "", "key id for the generated key")
	fs.StringVar(&algorithm, "algorithm", string(domain.AlgEd25519), "key algorithm")
	fs.StringVar(&outPath, "out", "keys.json", "key set output path")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if keyID == "" {
		fmt.Fprintln(os.Stderr, "keygen requires --key-id")
		return 2
	}

	var privateHex string
	var publicKey []byte
	switch domain.KeyAlgorithm(algorithm) {
	case domain.AlgEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			return 2
		}
		privateHex = hex.EncodeToString(priv.Seed())
		publicKey = pub
	case domain.AlgECDSAP256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			return 2
		}
		der, err := x509.MarshalECPrivateKey(priv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode private key: %v\n", err)
			return 2
		}
		privateHex = hex.EncodeToString(der)
		publicKey, err = receipt.PublicKeyBytes(priv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode public key: %v\n", err)
			return 2
		}
	default:
		fmt.Fprintf(os.Stderr, "unsupported algorithm %q\n", algorithm)
		return 2
	}

	set, err := domain.NewKeySet([]domain.TrustedKey{{
		KeyID:     keyID,
		Algorithm: domain.KeyAlgorithm(algorithm),
		PublicKey: publicKey,
	}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build key set: %v\n", err)
		return 2
	}
	payload, err := keystore.Marshal(set)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode key set: %v\n", err)
		return 2
	}
	if err := os.WriteFile(outPath, append(payload, '\n'), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write key set: %v\n", err)
		return 2
	}

	fmt.Printf("key_id=%s algorithm=%s\n", keyID, algorithm)
	fmt.Printf("key_set=%s\n", outPath)
	fmt.Printf("private_key_hex=%s\n", privateHex)
	return 0
}

func runPolicyCheck(args []string) int {
	fs := flag.NewFlagSet("policy check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var policyPath string
	var engine string
	fs.StringVar(&policyPath, "policy", "", "policy document or rego bundle directory")
	fs.StringVar(&engine, "engine", "native", "policy engine: native or rego")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if policyPath == "" {
		fmt.Fprintln(os.Stderr, "policy check requires --policy")
		return 2
	}

	eval, err := loadEvaluator(engine, policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy is invalid: %v\n", err)
		return 1
	}
	fmt.Printf("policy_hash=%s engine=%s\n", eval.PolicyHash(), engine)
	return 0
}
