package depservice

import (
	"fmt"
	"strings"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

// SignatureVerificationError reports a failed recipe signature check:
// an optional, registry-advertised integrity check layered on top of
// the SHA-1 content revision.
type SignatureVerificationError struct {
	Name, Revision string
	Err            error
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("depservice: recipe %s (revision %s) failed signature verification: %v", e.Name, e.Revision, e.Err)
}

func (e *SignatureVerificationError) Unwrap() error { return e.Err }

// VerifyRecipeSignature checks recipeText against a detached signature
// using the given public key, both in armored PGP form. The signed
// payload is the recipe's raw bytes, not a file on disk, so there is no
// read step.
func VerifyRecipeSignature(recipeText, armoredSignature, armoredPublicKey string) error {
	key, err := crypto.NewKeyFromArmored(armoredPublicKey)
	if err != nil {
		return fmt.Errorf("depservice: parse public key: %w", err)
	}
	keyRing, err := crypto.NewKeyRing(key)
	if err != nil {
		return fmt.Errorf("depservice: build keyring: %w", err)
	}

	signature, err := crypto.NewPGPSignatureFromArmored(armoredSignature)
	if err != nil {
		signature = crypto.NewPGPSignature([]byte(armoredSignature))
	}

	message := crypto.NewPlainMessage([]byte(recipeText))
	if err := keyRing.VerifyDetached(message, signature, 0); err != nil {
		return fmt.Errorf("depservice: verify detached signature: %w", err)
	}
	return nil
}

// NormalizeFingerprint uppercases a fingerprint for stable comparison.
func NormalizeFingerprint(fp string) string {
	return strings.ToUpper(strings.ReplaceAll(fp, " ", ""))
}
