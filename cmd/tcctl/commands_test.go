package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcbridge/internal/domain"
)

func TestPrintRecords(t *testing.T) {
	var buf bytes.Buffer
	printRecords(&buf, []domain.TorrentRecord{{
		InfoHash: "b385fdc6dee6005245f7ae79f5476898795ed833",
		Name:     "file_a.txt",
		Size:     2_500_000,
		State:    domain.TorrentStateActive,
		Progress: 50,
		Tracker:  "example.com",
		Added:    time.Now().Add(-2 * time.Hour),
	}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "INFOHASH"))
	assert.Contains(t, lines[1], "2.5 MB")
	assert.Contains(t, lines[1], "50.0%")
	assert.Contains(t, lines[1], "2 hours ago")
}

func TestPrintMoves(t *testing.T) {
	var buf bytes.Buffer
	printMoves(&buf, []domain.MoveRecord{{
		ID:           "id-1",
		InfoHash:     "b385fdc6dee6005245f7ae79f5476898795ed833",
		Source:       "home",
		Target:       "seedbox",
		Status:       domain.MoveStatusDuplicate,
		ErrorMessage: "remove failed",
		StartedAt:    time.Now(),
	}})
	assert.Contains(t, buf.String(), "duplicate")
	assert.Contains(t, buf.String(), "remove failed")
}
