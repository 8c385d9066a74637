// Package account creates the bootstrap admin and harvester accounts at
// broker startup.
//
// Hashing is SHA-512 of a short random salt concatenated with the
// password, in that order (salt first).
// This is not a modern KDF (no bcrypt/scrypt/argon2 work factor);
// it matches what existing deployments already store, and upgrading it
// would invalidate every persisted credential.
package account

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/subugoe/operandi-go/pkg/storage"
	"github.com/subugoe/operandi-go/pkg/types"
)

const saltLength = 8 // bytes; matches the original's short random salt

// hashPassword returns hex(SHA-512(salt + password)) and the generated
// hex-encoded salt. The salt prefixes the password; existing stored
// credentials depend on this order.
func hashPassword(password string) (encryptedPass, salt string, err error) {
	raw := make([]byte, saltLength)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	salt = hex.EncodeToString(raw)

	sum := sha512.Sum512([]byte(salt + password))
	return hex.EncodeToString(sum[:]), salt, nil
}

// VerifyPassword reports whether password, salted with salt, hashes to
// encryptedPass.
func VerifyPassword(password, salt, encryptedPass string) bool {
	sum := sha512.Sum512([]byte(salt + password))
	return hex.EncodeToString(sum[:]) == encryptedPass
}

// Bootstrap ensures the configured admin and harvester accounts exist,
// creating whichever is missing.
func Bootstrap(ctx context.Context, store storage.Store, adminEmail, adminPassword, harvesterEmail, harvesterPassword string) error {
	if err := ensureAccount(ctx, store, adminEmail, adminPassword, types.AccountTypeAdmin); err != nil {
		return fmt.Errorf("bootstrap admin account: %w", err)
	}
	if err := ensureAccount(ctx, store, harvesterEmail, harvesterPassword, types.AccountTypeHarvester); err != nil {
		return fmt.Errorf("bootstrap harvester account: %w", err)
	}
	return nil
}

func ensureAccount(ctx context.Context, store storage.Store, email, password string, accountType types.AccountType) error {
	_, err := store.GetUserAccountByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	encryptedPass, salt, err := hashPassword(password)
	if err != nil {
		return err
	}
	account := &types.UserAccount{
		UserID:        newBootstrapUserID(accountType),
		InstitutionID: "bootstrap",
		Email:         email,
		Salt:          salt,
		EncryptedPass: encryptedPass,
		AccountType:   accountType,
		Approved:      true,
	}
	return store.CreateUserAccount(ctx, account)
}

func newBootstrapUserID(accountType types.AccountType) string {
	return fmt.Sprintf("bootstrap-%s-%s", accountType, uuid.New().String())
}
