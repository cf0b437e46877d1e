package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectForeignClusters(t *testing.T) {
	in := "The letter ended mid-sentence and then сердце забилось чаще и она побежала before the English resumed."
	findings := detectForeignClusters(in, LanguageOptions{MinClusterWords: 3})

	require.Len(t, findings, 1)
	assert.Equal(t, 6, findings[0].Words)
	assert.Contains(t, findings[0].Cluster, "сердце")
}

func TestDetectForeignClustersIgnoresIsolatedWords(t *testing.T) {
	in := "She ordered a croissant and said спасибо to the waiter before leaving."
	findings := detectForeignClusters(in, LanguageOptions{MinClusterWords: 3})
	assert.Empty(t, findings)
}

func TestDetectForeignClustersWhitelist(t *testing.T) {
	in := "He signed the card Дмитрий Петрович Соколов as always."
	opts := LanguageOptions{
		MinClusterWords: 3,
		Whitelist:       []string{"Дмитрий", "Петрович", "Соколов"},
	}
	assert.Empty(t, detectForeignClusters(in, opts))

	// Without the whitelist the same run is flagged.
	findings := detectForeignClusters(in, LanguageOptions{MinClusterWords: 3})
	require.Len(t, findings, 1)
	assert.Equal(t, 3, findings[0].Words)
}

func TestDetectForeignClustersLatinOnly(t *testing.T) {
	in := "Nothing but plain English prose from start to finish here."
	assert.Empty(t, detectForeignClusters(in, LanguageOptions{}))
}
