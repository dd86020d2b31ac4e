package source

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, path string, seconds int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)

	const rate = 8000
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, rate*seconds),
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func createVoiceMemosDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
CREATE TABLE ZFOLDER (Z_PK INTEGER PRIMARY KEY, ZENCRYPTEDNAME VARCHAR);
CREATE TABLE ZCLOUDRECORDING (
    Z_PK INTEGER PRIMARY KEY,
    ZFOLDER INTEGER,
    ZDATE TIMESTAMP,
    ZDURATION FLOAT,
    ZCUSTOMLABEL VARCHAR,
    ZENCRYPTEDTITLE VARCHAR,
    ZPATH VARCHAR,
    ZUNIQUEID VARCHAR
);
INSERT INTO ZFOLDER VALUES (1, 'Work');
INSERT INTO ZCLOUDRECORDING VALUES (1, 1, 700000000, 30.5, '2023-03-07 10:13', 'Standup notes', '20230307 101320.m4a', 'uuid-1');
INSERT INTO ZCLOUDRECORDING VALUES (2, NULL, 700000100.5, 600, 'Corner shop', NULL, '20230307 101500.m4a', 'uuid-2');
INSERT INTO ZCLOUDRECORDING VALUES (3, NULL, 699999000, 12, NULL, NULL, NULL, 'uuid-3');
INSERT INTO ZCLOUDRECORDING VALUES (4, 0, 600000000, 5, NULL, NULL, 'old.m4a', 'uuid-4');
`)
	require.NoError(t, err)
}

func TestVoiceMemosItems(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "CloudRecordings.db")
	createVoiceMemosDB(t, dbPath)

	items, err := VoiceMemos{DBPath: dbPath, RecordingsDir: dir}.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "uuid-2", items[0].ID)
	assert.Equal(t, "Corner shop", items[0].Title)
	assert.Equal(t, "Unfiled", items[0].Folder)
	assert.Equal(t, 600.0, items[0].Duration)
	assert.Equal(t, time.Unix(700000100+978307200, 500000000).UTC(), items[0].RecordedAt)

	assert.Equal(t, "Standup notes", items[1].Title)
	assert.Equal(t, "Work", items[1].Folder)
	assert.Equal(t, filepath.Join(dir, "20230307 101320.m4a"), items[1].AbsPath())

	assert.Equal(t, "Untitled", items[2].Title)
}

func TestVoiceMemosMissingDatabase(t *testing.T) {
	_, err := VoiceMemos{DBPath: filepath.Join(t.TempDir(), "missing", "CloudRecordings.db")}.Items(context.Background())
	assert.Error(t, err)
}

func TestDirectoryItems(t *testing.T) {
	root := t.TempDir()
	writeWAV(t, filepath.Join(root, "Work", "standup.wav"), 2)
	require.NoError(t, os.WriteFile(filepath.Join(root, "loose.m4a"), []byte("aac"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".cache", "hidden.wav"), []byte("x"), 0o644))

	older := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "loose.m4a"), older, older))

	items, err := Directory{Root: root}.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	wavItem := items[0]
	assert.Equal(t, "standup", wavItem.Title)
	assert.Equal(t, "Work", wavItem.Folder)
	assert.Equal(t, "Work/standup.wav", wavItem.Path)
	assert.InDelta(t, 2.0, wavItem.Duration, 0.01)
	assert.Equal(t, uuid.NewSHA1(itemNamespace, []byte("Work/standup.wav")).String(), wavItem.ID)
	assert.Equal(t, filepath.Join(root, "Work", "standup.wav"), wavItem.AbsPath())

	assert.Equal(t, "loose", items[1].Title)
	assert.Equal(t, "Unfiled", items[1].Folder)
	assert.Zero(t, items[1].Duration)

	again, err := Directory{Root: root}.Items(context.Background())
	require.NoError(t, err)
	assert.Equal(t, items[0].ID, again[0].ID, "identifiers must be stable across scans")
}

func TestFilterAndLimit(t *testing.T) {
	items := []Item{{ID: "a", Folder: "Work"}, {ID: "b", Folder: "Home"}, {ID: "c", Folder: "Work"}}

	work := Filter(items, "Work")
	require.Len(t, work, 2)
	assert.Equal(t, "c", work[1].ID)
	assert.Len(t, Filter(items, ""), 3)

	assert.Len(t, Limit(items, 2), 2)
	assert.Len(t, Limit(items, 0), 3)
	assert.Len(t, Limit(items, 10), 3)
}
