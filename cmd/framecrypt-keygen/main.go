// Command framecrypt-keygen generates an ephemeral ECDH P-256 keypair and
// prints its SEC1 public key and fingerprint, for bootstrapping a
// signaling-side key exchange out of band.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/meshcall/framecrypt/crypto/agreement"
	"github.com/meshcall/framecrypt/internal/base64url"
	fcversion "github.com/meshcall/framecrypt/internal/version"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type ready struct {
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	Date         string `json:"date"`
	PublicKeyB64 string `json:"public_key_b64"`
	Fingerprint  string `json:"fingerprint"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	showVersion := false
	truncate := 0

	fs := flag.NewFlagSet("framecrypt-keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.IntVar(&truncate, "fingerprint-bytes", 0, "truncate the printed fingerprint to this many bytes (0 = full SHA-256)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		fmt.Fprintln(stdout, fcversion.String(version, commit, date))
		return 0
	}

	_, pub, err := agreement.GenerateKeypair()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fp := agreement.Fingerprint(pub)

	_ = json.NewEncoder(stdout).Encode(ready{
		Version:      version,
		Commit:       commit,
		Date:         date,
		PublicKeyB64: base64url.Encode(pub),
		Fingerprint:  agreement.FormatFingerprint(fp, truncate),
	})
	return 0
}
