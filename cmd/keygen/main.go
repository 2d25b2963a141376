// Command keygen writes a fresh Ed25519 signing key pair for the token issuer.
//
//	keygen -kid 2026-10 -dir keys
//
// produces keys/2026-10.pem (private, PKCS#8) and keys/2026-10.pub.pem (PKIX).
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/filex"
	"github.com/slkzgm/beezie-backend/internal/server/keys"
)

func main() {
	kid := flag.String("kid", "", "key id to embed in the file names")
	dir := flag.String("dir", "keys", "output directory")
	flag.Parse()

	if err := run(*kid, *dir); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(kid, dir string) error {
	if kid == "" {
		return fmt.Errorf("-kid is required")
	}

	out, err := filex.EnsureDir(dir)
	if err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	defer common.WipeByteArray(priv)

	privPEM, err := keys.MarshalPrivateKeyPEM(priv)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(privPEM)

	pubPEM, err := keys.MarshalPublicKeyPEM(pub)
	if err != nil {
		return err
	}

	privPath := filepath.Join(out, kid+".pem")
	pubPath := filepath.Join(out, kid+".pub.pem")
	if err := filex.WriteSecret(privPath, privPEM); err != nil {
		return err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", pubPath, err)
	}

	fmt.Printf("kid=%s\nprivate=%s\npublic=%s\n", kid, privPath, pubPath)
	return nil
}
