package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndVerifyChain(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")

	l, err := Open(logPath)
	require.NoError(t, err)

	require.NoError(t, l.Append(KindBackupStart, "", true, "starting"))
	require.NoError(t, l.Append(KindBackupEnd, "", true, "done"))

	secret, err := os.ReadFile(SecretPath(logPath))
	require.NoError(t, err)

	require.NoError(t, VerifyChain(logPath, secret))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")

	l, err := Open(logPath)
	require.NoError(t, err)
	require.NoError(t, l.Append(KindBackupStart, "", true, "starting"))
	require.NoError(t, l.Append(KindSecurityViolation, "/etc/passwd", false, "path traversal rejected"))

	secret, err := os.ReadFile(SecretPath(logPath))
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	tampered := []byte(string(data)[:len(data)-2] + "X\n")
	require.NoError(t, os.WriteFile(logPath, tampered, 0o600))

	err = VerifyChain(logPath, secret)
	assert.Error(t, err)
}

func TestOpenResumesChainAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")

	l1, err := Open(logPath)
	require.NoError(t, err)
	require.NoError(t, l1.Append(KindBackupStart, "", true, "first"))

	l2, err := Open(logPath)
	require.NoError(t, err)
	require.NoError(t, l2.Append(KindBackupEnd, "", true, "second"))

	secret, err := os.ReadFile(SecretPath(logPath))
	require.NoError(t, err)
	require.NoError(t, VerifyChain(logPath, secret))
}

func TestSecretFileHasRestrictedPermissions(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")
	_, err := Open(logPath)
	require.NoError(t, err)

	info, err := os.Stat(SecretPath(logPath))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
