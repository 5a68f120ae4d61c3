package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(login string) Record {
	return Record{
		Login:        login,
		Broker:       "Demo Broker",
		Server:       "Demo-Server",
		DataPort:     51810,
		CommandPort:  51811,
		Role:         "master",
		Version:      "1.0.0",
		EventDriven:  true,
		Timestamp:    "2026-03-01T12:00:00.000Z",
		SessionID:    NewSessionID(),
		Platform:     "MT5",
		Transport:    "zmq",
		DataEndpoint: "tcp://127.0.0.1:51810",
		PID:          os.Getpid(),
	}
}

func TestWriteReadRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	rec := testRecord("5550123")

	path, err := Write(dir, rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "master_5550123.json"), path)

	got, err := Read(dir, "5550123")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	_, err = uuid.Parse(got.SessionID)
	assert.NoError(t, err)

	rec.CurveEnabled = true
	rec.CurvePublicKey = "rq:rM>}U?@Lns47E1%kR.o@n%FcmmsL/@{H8]yf7"
	_, err = Write(dir, rec)
	require.NoError(t, err)
	got, err = Read(dir, "5550123")
	require.NoError(t, err)
	assert.True(t, got.CurveEnabled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	require.NoError(t, Remove(dir, "5550123"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, Remove(dir, "5550123"))
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(dir, testRecord("200"))
	require.NoError(t, err)
	_, err = Write(dir, testRecord("100"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "master_bad.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	recs, err := List(dir)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "100", recs[0].Login)
	assert.Equal(t, "200", recs[1].Login)

	recs, err = List(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestWriteRequiresLogin(t *testing.T) {
	_, err := Write(t.TempDir(), Record{})
	assert.Error(t, err)
}

func TestFileNameSanitizes(t *testing.T) {
	assert.Equal(t, "master_a_b_c.json", FileName("a/b c"))
}
