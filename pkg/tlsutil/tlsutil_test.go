package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexitosrv/atlas/errors"
)

func generateTestCert(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test Org"}, CommonName: cn},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *ClientConfig
		wantErr bool
	}{
		{"nil", nil, false},
		{"empty", &ClientConfig{}, false},
		{"tls 1.3", &ClientConfig{MinVersion: "1.3"}, false},
		{"bad version", &ClientConfig{MinVersion: "1.1"}, true},
		{"cert without key", &ClientConfig{CertFile: "cert.pem"}, true},
		{"key without cert", &ClientConfig{KeyFile: "key.pem"}, true},
		{"cert and key", &ClientConfig{CertFile: "cert.pem", KeyFile: "key.pem"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClientConfig_LoadNil(t *testing.T) {
	var cfg *ClientConfig
	tlsConfig, err := cfg.Load()
	assert.NoError(t, err)
	assert.Nil(t, tlsConfig)
}

func TestClientConfig_LoadVersions(t *testing.T) {
	tlsConfig, err := (&ClientConfig{}).Load()
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
	assert.NotNil(t, tlsConfig.RootCAs)
	assert.False(t, tlsConfig.InsecureSkipVerify)

	tlsConfig, err = (&ClientConfig{MinVersion: "1.3", InsecureSkipVerify: true}).Load()
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), tlsConfig.MinVersion)
	assert.True(t, tlsConfig.InsecureSkipVerify)
}

func TestClientConfig_AdditionalCATrustsServer(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	caFile := writeFile(t, dir, "ca.pem", pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: server.Certificate().Raw,
	}))

	// Without the CA the self-signed server is rejected.
	plain, err := (&ClientConfig{}).Load()
	require.NoError(t, err)
	_, err = (&http.Client{Transport: &http.Transport{TLSClientConfig: plain}}).Get(server.URL)
	assert.Error(t, err)

	trusted, err := (&ClientConfig{CAFiles: []string{caFile}}).Load()
	require.NoError(t, err)
	resp, err := (&http.Client{Transport: &http.Transport{TLSClientConfig: trusted}}).Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientConfig_LoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := (&ClientConfig{CAFiles: []string{filepath.Join(dir, "missing.pem")}}).Load()
	assert.True(t, errors.IsFatal(err))

	garbage := writeFile(t, dir, "garbage.pem", []byte("not a certificate"))
	_, err = (&ClientConfig{CAFiles: []string{garbage}}).Load()
	assert.True(t, errors.IsFatal(err))

	_, err = (&ClientConfig{CertFile: garbage, KeyFile: garbage}).Load()
	assert.True(t, errors.IsFatal(err))
}

func TestClientConfig_ClientCertificate(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t, "atlas-lwc")
	certFile := writeFile(t, dir, "client.pem", certPEM)
	keyFile := writeFile(t, dir, "client-key.pem", keyPEM)

	tlsConfig, err := (&ClientConfig{CertFile: certFile, KeyFile: keyFile}).Load()
	require.NoError(t, err)
	require.Len(t, tlsConfig.Certificates, 1)

	leaf, err := x509.ParseCertificate(tlsConfig.Certificates[0].Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "atlas-lwc", leaf.Subject.CommonName)
}
