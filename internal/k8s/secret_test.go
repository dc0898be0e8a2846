package k8s

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ppiankov/snapspectre/pkg/config"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
)

func newTestClient(objects ...runtime.Object) *Client {
	return NewClientFromClientset(fake.NewSimpleClientset(objects...))
}

func credentialsSecret(namespace, name string, data map[string]string) *corev1.Secret {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Data:       map[string][]byte{},
	}
	for k, v := range data {
		secret.Data[k] = []byte(v)
	}
	return secret
}

func TestParseSecretRef(t *testing.T) {
	cases := []struct {
		ref       string
		namespace string
		name      string
		wantErr   bool
	}{
		{ref: "backup/snapspectre", namespace: "backup", name: "snapspectre"},
		{ref: " snapspectre ", namespace: "default", name: "snapspectre"},
		{ref: "", wantErr: true},
		{ref: "/name", wantErr: true},
		{ref: "a/b/c", wantErr: true},
	}

	for _, tc := range cases {
		namespace, name, err := ParseSecretRef(tc.ref)
		if tc.wantErr {
			if err == nil {
				t.Errorf("expected error for %q", tc.ref)
			}
			continue
		}
		if err != nil {
			t.Errorf("unexpected error for %q: %v", tc.ref, err)
			continue
		}
		if namespace != tc.namespace || name != tc.name {
			t.Errorf("ParseSecretRef(%q) = %s/%s, want %s/%s", tc.ref, namespace, name, tc.namespace, tc.name)
		}
	}
}

func TestLoadCredentials(t *testing.T) {
	client := newTestClient(credentialsSecret("backup", "snapspectre", map[string]string{
		KeyDBUsername:    "commvault_ro\n",
		KeyDBPassword:    "db-secret",
		KeyArrayPassword: "array-secret",
		"unrelated":      "ignored",
	}))

	creds, err := client.LoadCredentials(context.Background(), "backup/snapspectre")
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	want := Credentials{
		DBUsername:    "commvault_ro",
		DBPassword:    "db-secret",
		ArrayPassword: "array-secret",
	}
	if *creds != want {
		t.Fatalf("expected %+v, got %+v", want, *creds)
	}
}

func TestLoadCredentialsMissingSecret(t *testing.T) {
	client := newTestClient()

	_, err := client.LoadCredentials(context.Background(), "backup/absent")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCredentialsApplyToFillsOnlyEmpty(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Username = "from-flag"
	cfg.Array.Password = "from-env"

	creds := &Credentials{
		DBUsername:    "from-secret",
		DBPassword:    "db-secret",
		ArrayUsername: "admin",
		ArrayPassword: "array-secret",
	}
	filled := creds.ApplyTo(cfg)

	if cfg.Database.Username != "from-flag" || cfg.Array.Password != "from-env" {
		t.Fatalf("explicit credentials must win: %+v %+v", cfg.Database, cfg.Array)
	}
	if cfg.Database.Password != "db-secret" || cfg.Array.Username != "admin" {
		t.Fatalf("empty credentials must be filled: %+v %+v", cfg.Database, cfg.Array)
	}
	if !reflect.DeepEqual(filled, []string{KeyDBPassword, KeyArrayUsername}) {
		t.Fatalf("unexpected filled fields %v", filled)
	}

	var nilCreds *Credentials
	if nilCreds.ApplyTo(cfg) != nil {
		t.Fatal("nil credentials must not fill anything")
	}
}

func TestClientset(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	if NewClientFromClientset(clientset).Clientset() != clientset {
		t.Fatal("expected the wrapped clientset to be returned")
	}
}

func TestNewClientMissingKubeconfig(t *testing.T) {
	_, err := NewClient(filepath.Join(t.TempDir(), "missing-kubeconfig"))
	if err == nil || !strings.Contains(err.Error(), "failed to load kubeconfig") {
		t.Fatalf("expected kubeconfig error, got %v", err)
	}
}

func TestNewClientFromKubeconfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	kubeconfig := `apiVersion: v1
kind: Config
clusters:
- name: test
  cluster:
    server: https://127.0.0.1:6443
contexts:
- name: test
  context:
    cluster: test
    user: test
current-context: test
users:
- name: test
  user:
    token: abc
`
	if err := os.WriteFile(path, []byte(kubeconfig), 0o600); err != nil {
		t.Fatal(err)
	}

	client, err := NewClient(path)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.host != "https://127.0.0.1:6443" || client.Clientset() == nil {
		t.Fatalf("unexpected client %+v", client)
	}
}
