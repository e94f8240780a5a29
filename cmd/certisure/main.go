// Command certisure registers and verifies certificate PDFs against a
// CertiSure server, computes digests locally and mints capability tokens.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"certisure/internal/capability"
	"certisure/internal/client"
	"certisure/internal/platform/logger"
	"certisure/internal/scanner"
	"certisure/internal/scanner/poppler"
	"certisure/internal/scanner/zxing"
	"certisure/pkg/canonical"
	dErrors "certisure/pkg/domain-errors"
)

const (
	exitOK          = 0
	exitFailed      = 1
	exitUsage       = 2
	exitNotVerified = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return exitUsage
	}

	switch args[0] {
	case "hash":
		return cmdHash(args[1:], in, out, errOut)
	case "token":
		return cmdToken(args[1:], out, errOut)
	case "scan":
		return cmdScan(ctx, args[1:], out, errOut)
	case "register":
		return cmdAttempt(ctx, "register", args[1:], out, errOut)
	case "verify":
		return cmdAttempt(ctx, "verify", args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return exitOK
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "certisure: certificate registration and verification client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  certisure hash [--array-mode verbatim|recursive|indexed] [--canonical] <file.json|->")
	fmt.Fprintln(w, "  certisure token --subject <institution> --cap register[,verify] [--ttl 24h] [--key <secret>]")
	fmt.Fprintln(w, "  certisure scan [--poppler-dir <dir>] <file.pdf>")
	fmt.Fprintln(w, "  certisure register [flags] <file.pdf>")
	fmt.Fprintln(w, "  certisure verify [flags] <file.pdf>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "register/verify flags:")
	fmt.Fprintln(w, "  --server <url>        server base url (default $CERTISURE_SERVER or http://localhost:8080)")
	fmt.Fprintln(w, "  --contract <name>     record, certificates (legacy, advisory proofs) or upload")
	fmt.Fprintln(w, "  --token <jwt>         capability token (default $CERTISURE_TOKEN)")
	fmt.Fprintln(w, "  --array-mode <mode>   must match the server")
	fmt.Fprintln(w, "  --timeout <duration>  per-request timeout")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit codes: 0 verified/registered, 1 failure, 2 usage, 3 not verified")
}

func cmdHash(args []string, in io.Reader, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(errOut)
	mode := fs.String("array-mode", "verbatim", "array hashing mode")
	showCanonical := fs.Bool("canonical", false, "print the canonical serialization before the digest")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: certisure hash [--array-mode m] [--canonical] <file.json|->")
		return exitUsage
	}
	arrayMode, err := canonical.ParseArrayMode(*mode)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return exitUsage
	}

	var data []byte
	if fs.Arg(0) == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(fs.Arg(0))
	}
	if err != nil {
		fmt.Fprintf(errOut, "read input: %v\n", err)
		return exitFailed
	}
	v, err := canonical.Decode(data)
	if err != nil {
		fmt.Fprintf(errOut, "invalid JSON: %v\n", err)
		return exitFailed
	}

	h := canonical.New(canonical.WithArrayMode(arrayMode))
	if *showCanonical {
		b, err := h.Marshal(v)
		if err != nil {
			fmt.Fprintf(errOut, "serialize: %v\n", err)
			return exitFailed
		}
		fmt.Fprintln(out, string(b))
	}
	digest, err := h.Hash(v)
	if err != nil {
		fmt.Fprintf(errOut, "hash: %v\n", err)
		return exitFailed
	}
	fmt.Fprintln(out, digest)
	return exitOK
}

func cmdToken(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(errOut)
	key := fs.String("key", os.Getenv("CERTISURE_AUTH_SIGNING_KEY"), "HS256 signing key")
	issuer := fs.String("issuer", envOr("CERTISURE_AUTH_ISSUER", "certisure"), "token issuer")
	audience := fs.String("audience", envOr("CERTISURE_AUTH_AUDIENCE", "certisure-api"), "token audience")
	subject := fs.String("subject", "", "institution the token is issued to")
	caps := fs.String("cap", "", "comma separated capabilities: register, verify")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *key == "" || *subject == "" || *caps == "" {
		fmt.Fprintln(errOut, "usage: certisure token --subject <institution> --cap register[,verify] [--ttl 24h] [--key <secret>]")
		return exitUsage
	}

	var granted []capability.Capability
	for _, name := range strings.Split(*caps, ",") {
		c, err := capability.ParseCapability(name)
		if err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
			return exitUsage
		}
		granted = append(granted, c)
	}

	token, err := capability.New(*key, *issuer, *audience).Issue(*subject, granted, *ttl)
	if err != nil {
		fmt.Fprintf(errOut, "issue token: %v\n", err)
		return exitFailed
	}
	fmt.Fprintln(out, token)
	return exitOK
}

func cmdScan(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(errOut)
	popplerDir := fs.String("poppler-dir", os.Getenv("CERTISURE_SCANNER_POPPLER_DIR"), "directory holding pdfinfo and pdftoppm")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: certisure scan [--poppler-dir <dir>] <file.pdf>")
		return exitUsage
	}
	pdf, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read pdf: %v\n", err)
		return exitFailed
	}
	sc, err := newScanner(*popplerDir, logger.NewWithWriter(errOut, "warn", "text"))
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return exitFailed
	}
	res, err := sc.Scan(ctx, pdf)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %s\n", dErrors.MessageOf(err))
		return exitFailed
	}
	fmt.Fprintf(errOut, "found on page %d at scale %v after %d attempts\n", res.Page, res.Scale, res.Attempts)
	fmt.Fprintln(out, res.Payload)
	return exitOK
}

func cmdAttempt(ctx context.Context, op string, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet(op, flag.ContinueOnError)
	fs.SetOutput(errOut)
	server := fs.String("server", envOr("CERTISURE_SERVER", "http://localhost:8080"), "server base url")
	contractName := fs.String("contract", "record", "record, certificates or upload")
	token := fs.String("token", os.Getenv("CERTISURE_TOKEN"), "capability token")
	mode := fs.String("array-mode", "verbatim", "array hashing mode; must match the server")
	popplerDir := fs.String("poppler-dir", os.Getenv("CERTISURE_SCANNER_POPPLER_DIR"), "directory holding pdfinfo and pdftoppm")
	timeout := fs.Duration("timeout", client.DefaultTimeout, "per-request timeout")
	verbose := fs.Bool("v", false, "print every state transition")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(errOut, "usage: certisure %s [flags] <file.pdf>\n", op)
		return exitUsage
	}
	contract, err := client.ParseContract(*contractName)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return exitUsage
	}
	arrayMode, err := canonical.ParseArrayMode(*mode)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return exitUsage
	}

	log := logger.NewWithWriter(errOut, "warn", "text")
	opts := []client.Option{
		client.WithContract(contract),
		client.WithHasher(canonical.New(canonical.WithArrayMode(arrayMode))),
		client.WithTimeout(*timeout),
		client.WithToken(*token),
		client.WithLogger(log),
	}
	if *verbose {
		opts = append(opts, client.WithTransitionHook(func(from, to client.State) {
			fmt.Fprintf(errOut, "%s -> %s\n", from, to)
		}))
	}
	if contract != client.ContractUpload {
		sc, err := newScanner(*popplerDir, log)
		if err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
			return exitFailed
		}
		opts = append(opts, client.WithScanner(sc))
	}

	c, err := client.New(*server, opts...)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return exitUsage
	}

	// A missing file falls through as an empty upload so the client reports it.
	pdf, err := os.ReadFile(fs.Arg(0))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(errOut, "read pdf: %v\n", err)
		return exitFailed
	}

	var outcome *client.Outcome
	if op == "register" {
		outcome, err = c.Register(ctx, pdf)
	} else {
		outcome, err = c.Verify(ctx, pdf)
	}
	printOutcome(out, outcome)
	if err != nil {
		return exitFailed
	}
	if !outcome.Verified {
		return exitNotVerified
	}
	return exitOK
}

func printOutcome(w io.Writer, o *client.Outcome) {
	if o == nil {
		return
	}
	fmt.Fprintln(w, o.Message)
	fmt.Fprintf(w, "state:          %s\n", o.State)
	if o.CertificateID != "" {
		fmt.Fprintf(w, "certificate id: %s\n", o.CertificateID)
	}
	if o.DataHash != "" {
		fmt.Fprintf(w, "data hash:      %s\n", o.DataHash)
	}
	if o.Reason != "" {
		fmt.Fprintf(w, "reason:         %s\n", o.Reason)
	}
	switch {
	case o.Authoritative:
		fmt.Fprintln(w, "confirmed by:   server")
	case o.Advisory:
		fmt.Fprintln(w, "confirmed by:   local comparison only (advisory)")
	}
	if o.Receipt != "" {
		fmt.Fprintf(w, "receipt:        %s\n", o.Receipt)
	}
}

func newScanner(popplerDir string, log *slog.Logger) (*scanner.Scanner, error) {
	renderer, err := poppler.New(popplerDir)
	if err != nil {
		return nil, fmt.Errorf("pdf rendering unavailable (install poppler-utils or pass --poppler-dir): %w", err)
	}
	return scanner.New(renderer, zxing.New(), scanner.WithLogger(log)), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
