package credential

import (
	"context"
	"encoding/json"
	"fmt"
)

// ServiceStore adapts a tenant-scoped Service onto the narrower Store
// interface the webhook router and flow executor consume. Webhook
// routing has no tenant in scope at match time, so it resolves every
// credential against a single configured tenant.
type ServiceStore struct {
	service  Service
	tenantID string
}

// NewServiceStore wraps service as a Store, resolving all credential
// lookups against tenantID.
func NewServiceStore(service Service, tenantID string) *ServiceStore {
	return &ServiceStore{service: service, tenantID: tenantID}
}

// GetSecret returns the decrypted credential value as a single string,
// using the same field-probing convention as the injector.
func (s *ServiceStore) GetSecret(ctx context.Context, credentialID string) (string, error) {
	decrypted, err := s.service.GetValue(ctx, s.tenantID, credentialID, "")
	if err != nil {
		return "", fmt.Errorf("credential store: %w", err)
	}
	return extractSecretValue(decrypted.Value), nil
}

// extractSecretValue mirrors Injector.extractCredentialValue: it picks
// the first recognized field name off a decrypted credential value,
// falling back to a JSON dump of the whole map.
func extractSecretValue(value map[string]interface{}) string {
	for _, key := range []string{"api_key", "token", "secret", "key", "password"} {
		if v, ok := value[key]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(data)
}
