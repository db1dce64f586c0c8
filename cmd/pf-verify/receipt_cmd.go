package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/pkg/receipt"
)

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var receiptPath string
	fs.StringVar(&receiptPath, "receipt", "", "receipt JSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if receiptPath == "" {
		fmt.Fprintln(os.Stderr, "inspect requires --receipt")
		return 2
	}
	payload, err := os.ReadFile(receiptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read receipt: %v\n", err)
		return 2
	}
	r, err := receipt.Decode(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "receipt is malformed: %v\n", err)
		return 1
	}
	digest, err := receipt.Digest(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "compute digest: %v\n", err)
		return 2
	}

	fmt.Printf("id=%s\n", r.ID)
	fmt.Printf("subject=%s\n", r.Subject)
	fmt.Printf("ts=%s\n", r.IssuedAt.UTC().Format(time.RFC3339Nano))
	fmt.Printf("digest=%s\n", digest)

	names := make([]string, 0, len(r.Claims))
	for name := range r.Claims {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("claims=%s\n", strings.Join(names, ","))

	for _, sig := range r.Signatures {
		fmt.Printf("signature key_id=%s algorithm=%s\n", sig.KeyID, sig.Algorithm)
	}
	if r.Transparency != nil {
		fmt.Printf("transparency log_id=%s tree_size=%d leaf_index=%d\n",
			r.Transparency.LogID, r.Transparency.TreeSize, r.Transparency.LeafIndex)
	} else {
		fmt.Println("transparency=absent")
	}
	return 0
}

func runSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var receiptPath string
	var keyID string
	var algorithm string
	var keyHex string
	var keyBase64 string
	var outPath string

	fs.StringVar(&receiptPath, "receipt", "", "receipt JSON file, signed or draft")
	fs.StringVar(&keyID, "key-id", "", "key id to record in the signature")
	fs.StringVar(&algorithm, "algorithm", string(domain.AlgEd25519), "signature algorithm")
	fs.StringVar(&keyHex, "key-hex", "", "private key, hex")
	fs.StringVar(&keyBase64, "key-base64", "", "private key, base64")
	fs.StringVar(&outPath, "out", "", "signed receipt output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	material := keyHex
	if material == "" {
		material = keyBase64
	}
	if receiptPath == "" || keyID == "" || material == "" {
		fmt.Fprintln(os.Stderr, "sign requires --receipt, --key-id, and --key-hex or --key-base64")
		return 2
	}

	payload, err := os.ReadFile(receiptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read receipt: %v\n", err)
		return 2
	}
	r, err := receipt.DecodeDraft(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode receipt: %v\n", err)
		return 2
	}
	alg := domain.KeyAlgorithm(algorithm)
	signer, err := receipt.ParsePrivateKey(alg, material)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse key: %v\n", err)
		return 2
	}
	if err := receipt.Sign(&r, keyID, alg, signer); err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		return 2
	}
	signed, err := receipt.Marshal(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode receipt: %v\n", err)
		return 2
	}
	if err := writeOutput(outPath, append(signed, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "write receipt: %v\n", err)
		return 2
	}
	return 0
}
