package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/ppiankov/snapspectre/pkg/config"
)

// Secret keys holding credentials
const (
	KeyDBUsername    = "db-username"
	KeyDBPassword    = "db-password"
	KeyArrayUsername = "array-username"
	KeyArrayPassword = "array-password"

	defaultNamespace = "default"
)

// Credentials are the values read from the Secret. Missing keys stay empty.
type Credentials struct {
	DBUsername    string
	DBPassword    string
	ArrayUsername string
	ArrayPassword string
}

// ParseSecretRef splits "namespace/name". A bare name uses the default namespace.
func ParseSecretRef(ref string) (namespace, name string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("credentials secret reference is required")
	}

	parts := strings.Split(ref, "/")
	switch {
	case len(parts) == 1:
		return defaultNamespace, parts[0], nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid credentials secret %q (expected namespace/name)", ref)
	}
}

// LoadCredentials reads the credentials Secret named by ref.
func (c *Client) LoadCredentials(ctx context.Context, ref string) (*Credentials, error) {
	namespace, name, err := ParseSecretRef(ref)
	if err != nil {
		return nil, err
	}

	secret, err := c.clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("credentials secret %s/%s does not exist", namespace, name)
		}
		return nil, fmt.Errorf("failed to read credentials secret %s/%s: %w", namespace, name, err)
	}

	value := func(key string) string {
		if data, ok := secret.Data[key]; ok {
			return strings.TrimSpace(string(data))
		}
		return strings.TrimSpace(secret.StringData[key])
	}

	creds := &Credentials{
		DBUsername:    value(KeyDBUsername),
		DBPassword:    value(KeyDBPassword),
		ArrayUsername: value(KeyArrayUsername),
		ArrayPassword: value(KeyArrayPassword),
	}

	slog.Debug("credentials secret loaded",
		slog.String("namespace", namespace),
		slog.String("name", name),
		slog.Int("keys", len(secret.Data)+len(secret.StringData)),
	)
	return creds, nil
}

// ApplyTo fills credentials that are still empty in cfg and returns the
// names of the fields it filled.
func (cr *Credentials) ApplyTo(cfg *config.Config) []string {
	if cr == nil || cfg == nil {
		return nil
	}

	var filled []string
	fill := func(target *string, value, field string) {
		if *target == "" && value != "" {
			*target = value
			filled = append(filled, field)
		}
	}

	fill(&cfg.Database.Username, cr.DBUsername, KeyDBUsername)
	fill(&cfg.Database.Password, cr.DBPassword, KeyDBPassword)
	fill(&cfg.Array.Username, cr.ArrayUsername, KeyArrayUsername)
	fill(&cfg.Array.Password, cr.ArrayPassword, KeyArrayPassword)
	return filled
}
