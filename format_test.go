package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.0 KB", formatSize(1024))
	assert.Equal(t, "1.5 MB", formatSize(1536*1024))
	assert.Equal(t, "2.0 GB", formatSize(2*1024*1024*1024))
	assert.Equal(t, "1.0 TB", formatSize(1024*1024*1024*1024))
}

func TestFormatTimeSameYear(t *testing.T) {
	now := time.Now()
	got := formatTime(now)
	assert.Contains(t, got, now.Format("Jan"))
	assert.NotContains(t, got, now.Format("2006"))
}

func TestFormatTimeDifferentYear(t *testing.T) {
	old := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Contains(t, formatTime(old), "2019")
}

func TestPrintTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"ID", "NAME"}, [][]string{
		{"1", "short"},
		{"22", "a-much-longer-name"},
	})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 3)

	// All rows start the NAME column at the same offset.
	assert.Equal(t, bytes.Index(lines[0], []byte("NAME")), bytes.Index(lines[1], []byte("short")))
	assert.Contains(t, string(lines[2]), "a-much-longer-name")
}
