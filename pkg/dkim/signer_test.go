// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package dkim

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rsaPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
}

func TestNew_DisabledWhenEmpty(t *testing.T) {
	signer, err := New(Config{})
	require.NoError(t, err)
	assert.Nil(t, signer)
	assert.Equal(t, "", signer.Selector())
}

func TestNew_RequiresSelector(t *testing.T) {
	_, err := New(Config{PrivateKey: rsaPEM(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selector is required")
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{Selector: "mail"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "privateKeyPath or privateKey")
}

func TestNew_LoadsKeyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dkim.pem")
	require.NoError(t, os.WriteFile(path, []byte(rsaPEM(t)), 0o600))

	signer, err := New(Config{Selector: "mail", PrivateKeyPath: path, Domain: "Schools.Example"})
	require.NoError(t, err)
	require.NotNil(t, signer)
	assert.Equal(t, "mail", signer.Selector())
	assert.Equal(t, "schools.example", signer.Domain())
}

func TestNew_AcceptsPKCS8Ed25519(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	signer, err := New(Config{
		Selector:   "ed",
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	})
	require.NoError(t, err)
	assert.NotNil(t, signer)
}

func TestNew_RejectsGarbageKey(t *testing.T) {
	_, err := New(Config{Selector: "mail", PrivateKey: "not a key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no private key found")
}

func TestSign_AddsHeaderForSenderDomain(t *testing.T) {
	signer, err := New(Config{Selector: "mail", PrivateKey: rsaPEM(t)})
	require.NoError(t, err)

	raw := "From: noreply@lessons.example\nTo: teacher@school.example\nSubject: Test\n\nBody\n"
	signed, err := signer.Sign([]byte(raw), "noreply@lessons.example")
	require.NoError(t, err)

	payload := string(signed)
	assert.True(t, strings.HasPrefix(payload, "DKIM-Signature:"), payload)
	assert.Contains(t, payload, "d=lessons.example")
	assert.Contains(t, payload, "s=mail")
	assert.Contains(t, payload, "\r\nFrom: noreply@lessons.example")
}

func TestSign_SkipsWhenHeaderPresent(t *testing.T) {
	signer, err := New(Config{Selector: "mail", PrivateKey: rsaPEM(t)})
	require.NoError(t, err)

	raw := "DKIM-Signature: existing\r\nFrom: noreply@lessons.example\r\n\r\nBody\r\n"
	signed, err := signer.Sign([]byte(raw), "noreply@lessons.example")
	require.NoError(t, err)
	assert.Equal(t, raw, string(signed))
}

func TestSign_NilSignerPassesThrough(t *testing.T) {
	var signer *Signer
	out, err := signer.Sign([]byte("x"), "a@b.example")
	require.NoError(t, err)
	assert.Equal(t, "x", string(out))
}

func TestSign_FailsWithoutDomain(t *testing.T) {
	signer, err := New(Config{Selector: "mail", PrivateKey: rsaPEM(t)})
	require.NoError(t, err)

	_, err = signer.Sign([]byte("From: x\r\n\r\nBody\r\n"), "not-an-address")
	require.Error(t, err)
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.org", extractDomain("<User@Example.ORG>"))
	assert.Equal(t, "", extractDomain("user@"))
	assert.Equal(t, "", extractDomain(""))
}
