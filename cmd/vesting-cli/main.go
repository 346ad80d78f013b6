package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"tokenvesting/cmd/internal/passphrase"
	"tokenvesting/crypto"
)

const (
	envRPCURL     = "VESTING_RPC_URL"
	envKeystore   = "VESTING_KEYSTORE"
	envPassphrase = "VESTING_KEYSTORE_PASSPHRASE"
	envPrivateKey = "VESTING_PRIVATE_KEY"
	envNamespace  = "VESTING_NAMESPACE"
)

type cli struct {
	endpoint  string
	keystore  string
	output    string
	namespace string

	httpClient *http.Client
	now        func() time.Time
	stdout     io.Writer
	stderr     io.Writer
}

// clock stamps signed requests; tests replace it.
var clock = time.Now

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        clock,
		stdout:     stdout,
		stderr:     stderr,
	}
	fs := flag.NewFlagSet("vesting-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	fs.StringVar(&c.endpoint, "rpc", envOr(envRPCURL, "http://127.0.0.1:8645"), "vestingd RPC base URL")
	fs.StringVar(&c.keystore, "keystore", envOr(envKeystore, ""), "path to the signing keystore")
	fs.StringVar(&c.output, "output", "json", "output format: json or yaml")
	fs.StringVar(&c.namespace, "namespace", envOr(envNamespace, "vesting-local"), "derivation namespace for offline commands")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if c.output != "json" && c.output != "yaml" {
		return printError(stderr, "--output must be json or yaml")
	}
	c.endpoint = strings.TrimRight(c.endpoint, "/")

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch rest[0] {
	case "keygen":
		return c.runKeygen(rest[1:])
	case "address":
		return c.runAddress(rest[1:])
	case "derive":
		return c.runDerive(rest[1:])
	case "asset":
		return c.runAsset(rest[1:])
	case "account":
		return c.runAccount(rest[1:])
	case "mint":
		return c.runMint(rest[1:])
	case "transfer":
		return c.runTransfer(rest[1:])
	case "schedule":
		return c.runSchedule(rest[1:])
	case "grant":
		return c.runGrant(rest[1:])
	case "claim":
		return c.runClaim(rest[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return `Usage: vesting-cli [--rpc URL] [--keystore PATH] [--output json|yaml] <command>

Commands:
  keygen   --out PATH                       create an encrypted signing keystore
  address                                   print the identity of the signing key
  derive   schedule --company NAME          derive schedule and treasury addresses offline
  derive   grant --beneficiary ID --schedule ADDR
  asset    register --asset ID [--decimals N] | get --asset ID
  account  open --asset ID | get --address ADDR
  mint     --asset ID --to ADDR --amount N
  transfer --from ADDR --to ADDR --asset ID --amount N
  schedule create --company NAME --asset ID | get --address ADDR | list
  grant    create --schedule ADDR --beneficiary ID --start T --end T --cliff T --amount N
  grant    get --address ADDR | list --schedule ADDR | preview --address ADDR [--at T]
  claim    --grant ADDR --schedule ADDR --treasury ADDR --asset ID

Signing keys come from --keystore (passphrase from ` + envPassphrase + ` or a prompt)
or from a hex key in ` + envPrivateKey + `.`
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func (c *cli) fail(err error) int {
	return printError(c.stderr, err.Error())
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// signingKey loads the caller's key from VESTING_PRIVATE_KEY or the keystore.
func (c *cli) signingKey() (*crypto.PrivateKey, error) {
	if raw := strings.TrimSpace(os.Getenv(envPrivateKey)); raw != "" {
		decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%s is not hex", envPrivateKey)
		}
		return crypto.PrivateKeyFromBytes(decoded)
	}
	if strings.TrimSpace(c.keystore) == "" {
		return nil, errors.New("no signing key: pass --keystore or set " + envPrivateKey)
	}
	pass, err := passphrase.NewSource(envPassphrase, "keystore passphrase").Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(c.keystore, pass)
}
