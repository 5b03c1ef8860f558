package services

import (
	"log/slog"
	"strings"
	"testing"

	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunker(t *testing.T, chunkSize, overlap, minSize int) *Chunker {
	t.Helper()
	cfg := &config.Config{
		ChunkSize:    chunkSize,
		ChunkOverlap: overlap,
		MinChunkSize: minSize,
	}
	return NewChunker(cfg, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func sentencePara(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString("The fuser assembly must be allowed to cool before removal. ")
	}
	return strings.TrimSpace(b.String()[:n])
}

func TestChunkPagesRespectsHardSizeBound(t *testing.T) {
	chunker := testChunker(t, 200, 50, 30)

	long := strings.Repeat("x", 1500) // single line, no break points
	pages := map[int]string{1: long}

	chunks := chunker.ChunkPages(pages)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.CharCount, 400, "chunk exceeds twice the target size")
	}
}

func TestChunkPagesBoundHoldsAfterShortParagraphMerge(t *testing.T) {
	chunker := testChunker(t, 200, 50, 30)

	// A sub-threshold fragment merged into a paragraph already at the hard
	// limit must not produce an oversized chunk.
	page := strings.Repeat("a", 99) + "\n\n" + strings.Repeat("b", 400)
	chunks := chunker.ChunkPages(map[int]string{1: page})

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.CharCount, 400, "merge step reintroduced an oversized chunk")
	}
}

func TestChunkPagesOverlapIsPrefixOfNextChunk(t *testing.T) {
	chunker := testChunker(t, 200, 60, 30)

	paras := []string{sentencePara(180), sentencePara(180), sentencePara(180)}
	pages := map[int]string{1: strings.Join(paras, "\n\n")}

	chunks := chunker.ChunkPages(pages)
	require.GreaterOrEqual(t, len(chunks), 2)

	tail := chunker.overlapTail(chunks[0].Text)
	require.NotEmpty(t, tail)
	assert.True(t, strings.HasPrefix(chunks[1].Text, tail),
		"second chunk should begin with the overlap tail of the first")
}

func TestOverlapTailTrimsAtSentenceBoundary(t *testing.T) {
	chunker := testChunker(t, 200, 40, 30)

	text := "Remove the four screws holding the cover. Lift the cover straight up to avoid bending the guide pins."
	tail := chunker.overlapTail(text)

	assert.NotContains(t, tail, ". ", "tail should start after the last sentence break inside the window")
	assert.True(t, strings.HasSuffix(text, tail))
}

func TestChunkPagesMergesShortParagraphs(t *testing.T) {
	chunker := testChunker(t, 500, 0, 30)

	text := "Removing the fuser assembly\n\n" + sentencePara(200)
	chunks := chunker.ChunkPages(map[int]string{3: text})

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "Removing the fuser assembly\n")
	assert.Equal(t, 3, chunks[0].PageStart)
	assert.Equal(t, 3, chunks[0].PageEnd)
}

func TestChunkPagesRejectsUndersizedChunks(t *testing.T) {
	chunker := testChunker(t, 500, 0, 30)

	chunks := chunker.ChunkPages(map[int]string{1: "Too short."})
	assert.Empty(t, chunks)
}

func TestChunkPagesDeduplicatesByFingerprint(t *testing.T) {
	chunker := testChunker(t, 500, 0, 30)

	repeated := sentencePara(150)
	pages := map[int]string{
		1: repeated,
		2: repeated, // identical footer-style text on a later page
		3: sentencePara(151),
	}

	chunks := chunker.ChunkPages(pages)
	require.Len(t, chunks, 2)

	assert.Equal(t, 1, chunks[0].PageStart, "first occurrence wins")
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex, "indexes must be contiguous after dedup")
	}
}

func TestChunkPagesDedupIgnoresCaseAndWhitespace(t *testing.T) {
	chunker := testChunker(t, 500, 0, 30)

	base := sentencePara(150)
	variant := strings.ToUpper(strings.Join(strings.Fields(base), "  "))

	chunks := chunker.ChunkPages(map[int]string{1: base, 2: variant})
	assert.Len(t, chunks, 1)
}

func TestStripHeadersMovesNoiseIntoMetadata(t *testing.T) {
	chunker := testChunker(t, 500, 0, 30)

	text := strings.Join([]string{
		"LaserJet Enterprise M607 Service Manual",
		"www.example.com/support",
		"IV.",
		sentencePara(200),
	}, "\n")

	chunks := chunker.ChunkPages(map[int]string{1: text})
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.NotContains(t, chunk.Text, "www.example.com")
	assert.NotContains(t, chunk.Text, "Service Manual")
	assert.Len(t, chunk.Metadata.HeaderLines, 3)
	assert.Contains(t, chunk.Metadata.HeaderModels, "M607")
}

func TestStripHeadersKeepsBodyLinesBeyondWindow(t *testing.T) {
	chunker := testChunker(t, 2000, 0, 30)

	body := make([]string, 0, 8)
	for i := 0; i < 6; i++ {
		body = append(body, sentencePara(80))
	}
	body = append(body, "www.example.com/late-url")
	text := strings.Join(body, "\n")

	chunks := chunker.ChunkPages(map[int]string{1: text})
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "www.example.com/late-url",
		"only the first lines are candidates for header stripping")
}

func TestClassifyPrecedence(t *testing.T) {
	chunker := testChunker(t, 500, 0, 30)

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "error code section outranks troubleshooting",
			text: "Error 41.03.15 indicates a fuser fault. Troubleshoot by checking the lamp.",
			want: models.ChunkTypeErrorCode,
		},
		{
			name: "troubleshooting vocabulary",
			text: "Possible cause: worn pickup roller. Remedy: replace the roller assembly.",
			want: models.ChunkTypeTroubleshooting,
		},
		{
			name: "procedure needs two numbered steps",
			text: "1. Power off the unit.\n2. Remove the rear panel.",
			want: models.ChunkTypeProcedure,
		},
		{
			name: "single numbered line is not a procedure",
			text: "1. Overview of the paper path assembly and its rollers.",
			want: models.ChunkTypeGeneral,
		},
		{
			name: "specification vocabulary",
			text: "Operating temperature range is 10 to 32 degrees at 115 voltage input.",
			want: models.ChunkTypeSpecification,
		},
		{
			name: "plain prose",
			text: "This chapter describes the layout of the document feeder assembly.",
			want: models.ChunkTypeGeneral,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, chunker.classify(tc.text))
		})
	}
}

func TestChunkPagesOrdersPagesNumerically(t *testing.T) {
	chunker := testChunker(t, 500, 0, 30)

	pages := map[int]string{
		10: sentencePara(140) + " page ten marker.",
		2:  sentencePara(141) + " page two marker.",
	}

	chunks := chunker.ChunkPages(pages)
	require.Len(t, chunks, 2)
	assert.Equal(t, 2, chunks[0].PageStart)
	assert.Equal(t, 10, chunks[1].PageStart)
}
