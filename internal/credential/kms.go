package credential

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// ClearKey zeroes key in place after use so a decrypted DEK doesn't
// linger in memory beyond its encrypt/decrypt call.
func ClearKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// KMSClientInterface is the data-key generation and decryption surface
// EncryptionService needs from a KMS client.
type KMSClientInterface interface {
	// GenerateDataKey returns a new plaintext DEK and its KMS-encrypted form.
	GenerateDataKey(ctx context.Context, keyID string, encryptionContext map[string]string) (plainKey, encryptedKey []byte, err error)
	// DecryptDataKey returns the plaintext DEK for a KMS-encrypted key.
	DecryptDataKey(ctx context.Context, encryptedKey []byte, encryptionContext map[string]string) (plainKey []byte, err error)
}

// awsKMSClient implements KMSClientInterface against a real AWS KMS endpoint.
type awsKMSClient struct {
	client *kms.Client
	keyID  string
}

// NewAWSKMSClient wraps an AWS KMS SDK client, using keyID to generate data
// keys when the caller doesn't specify its own (the EncryptionService's
// default Encrypt path passes an empty keyID).
func NewAWSKMSClient(client *kms.Client, keyID string) KMSClientInterface {
	return &awsKMSClient{client: client, keyID: keyID}
}

func (c *awsKMSClient) GenerateDataKey(ctx context.Context, keyID string, encryptionContext map[string]string) ([]byte, []byte, error) {
	if keyID == "" {
		keyID = c.keyID
	}
	out, err := c.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:             aws.String(keyID),
		KeySpec:           types.DataKeySpecAes256,
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("kms generate data key: %w", err)
	}
	return out.Plaintext, out.CiphertextBlob, nil
}

func (c *awsKMSClient) DecryptDataKey(ctx context.Context, encryptedKey []byte, encryptionContext map[string]string) ([]byte, error) {
	out, err := c.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    encryptedKey,
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt data key: %w", err)
	}
	return out.Plaintext, nil
}

// KMSEncryptionAdapter adapts EncryptionService's (encryptedData,
// encryptedKey) two-slice shape, where the DEK itself is generated per
// credential via KMS, onto EncryptionServiceInterface's EncryptedSecret
// shape by splitting the nonce-prepended blob encryptWithAESGCM produces.
type KMSEncryptionAdapter struct {
	svc   *EncryptionService
	keyID string
}

// NewKMSEncryptionAdapter wraps svc so it satisfies EncryptionServiceInterface.
func NewKMSEncryptionAdapter(svc *EncryptionService, keyID string) *KMSEncryptionAdapter {
	return &KMSEncryptionAdapter{svc: svc, keyID: keyID}
}

func (a *KMSEncryptionAdapter) Encrypt(ctx context.Context, tenantID string, data *CredentialData) (*EncryptedSecret, error) {
	encryptedData, encryptedKey, err := a.svc.Encrypt(ctx, data)
	if err != nil {
		return nil, err
	}
	return &EncryptedSecret{
		EncryptedDEK: encryptedKey,
		Ciphertext:   encryptedData,
		KMSKeyID:     a.keyID,
	}, nil
}

func (a *KMSEncryptionAdapter) Decrypt(ctx context.Context, encryptedData, encryptedKey []byte) (*CredentialData, error) {
	return a.svc.Decrypt(ctx, encryptedData, encryptedKey)
}
