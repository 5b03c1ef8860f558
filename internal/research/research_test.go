package research

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinedCombinesTitlesAndSnippets(t *testing.T) {
	r := &Result{
		Titles:   []string{"HP LaserJet M607 Service Manual"},
		Snippets: []string{"Covers the M607, M608 and M609 series printers."},
	}

	joined := r.Joined()
	assert.Contains(t, joined, "M607 Service Manual")
	assert.Contains(t, joined, "M609 series")
}

func TestSelectionTextTakesFirstMatchTrimmed(t *testing.T) {
	html := `<div class="result">
		<a class="result__a">  HP LaserJet M607 </a>
		<a class="result__a">second link</a>
		<span class="result__snippet"> Enterprise printer manual. </span>
	</div>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	sel := doc.Find("div.result")
	assert.Equal(t, "HP LaserJet M607", selectionText(sel, "a.result__a"))
	assert.Equal(t, "Enterprise printer manual.", selectionText(sel, ".result__snippet"))
	assert.Empty(t, selectionText(sel, ".missing"))
}
