package credential

import "context"

// gcmTagSize is the AES-GCM authentication tag size in bytes.
const gcmTagSize = 16

// SimpleEncryptionAdapter adapts SimpleEncryptionService's EncryptedSecret-based
// Decrypt onto the flat (encryptedData, encryptedKey []byte) shape
// EncryptionServiceInterface expects, by packing nonce, ciphertext, and
// auth tag into a single blob on Encrypt and unpacking them on Decrypt.
type SimpleEncryptionAdapter struct {
	svc *SimpleEncryptionService
}

// NewSimpleEncryptionAdapter wraps svc so it satisfies EncryptionServiceInterface.
func NewSimpleEncryptionAdapter(svc *SimpleEncryptionService) *SimpleEncryptionAdapter {
	return &SimpleEncryptionAdapter{svc: svc}
}

func (a *SimpleEncryptionAdapter) Encrypt(ctx context.Context, tenantID string, data *CredentialData) (*EncryptedSecret, error) {
	secret, err := a.svc.Encrypt(ctx, tenantID, data)
	if err != nil {
		return nil, err
	}
	packed := make([]byte, 0, len(secret.Nonce)+len(secret.Ciphertext)+len(secret.AuthTag))
	packed = append(packed, secret.Nonce...)
	packed = append(packed, secret.Ciphertext...)
	packed = append(packed, secret.AuthTag...)
	return &EncryptedSecret{
		EncryptedDEK: secret.EncryptedDEK,
		Ciphertext:   packed,
		KMSKeyID:     secret.KMSKeyID,
	}, nil
}

func (a *SimpleEncryptionAdapter) Decrypt(ctx context.Context, encryptedData, encryptedKey []byte) (*CredentialData, error) {
	if len(encryptedData) < NonceSize+gcmTagSize {
		return nil, &DecryptionError{Op: "Decrypt", Err: ErrInvalidCiphertext}
	}
	nonce := encryptedData[:NonceSize]
	authTag := encryptedData[len(encryptedData)-gcmTagSize:]
	ciphertext := encryptedData[NonceSize : len(encryptedData)-gcmTagSize]

	return a.svc.Decrypt(ctx, &EncryptedSecret{
		EncryptedDEK: encryptedKey,
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		AuthTag:      authTag,
	})
}
