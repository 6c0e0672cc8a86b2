package qobuz

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bundleSnippet(seedsByTimezone map[string]string) string {
	var b strings.Builder
	b.WriteString(`production:{api:{appId:"123456789"`)
	for tz, secret := range seedsByTimezone {
		seed := base64.StdEncoding.EncodeToString([]byte(secret))
		b.WriteString(`a.initialSeed("` + seed + `",window.utimezone.` + tz + `)`)
	}
	for tz := range seedsByTimezone {
		capitalized := strings.ToUpper(tz[:1]) + tz[1:]
		// info + extras together contribute exactly the 44 stripped chars.
		b.WriteString(`name:"Europe/` + capitalized + `",info:"` + strings.Repeat("x", 4) + `",extras:"` + strings.Repeat("y", 40) + `"`)
	}

	return b.String()
}

func TestCandidateSecretsDecodesSeedPairs(t *testing.T) {
	t.Parallel()

	bundle := bundleSnippet(map[string]string{
		"berlin": "abcdefghijkl",
		"dublin": "mnopqrstuvwx",
	})

	secrets := candidateSecrets([]byte(bundle))
	require.Len(t, secrets, 2)
	assert.ElementsMatch(t, []string{"abcdefghijkl", "mnopqrstuvwx"}, secrets)
}

func TestCandidateSecretsRequiresTwoSeedPairs(t *testing.T) {
	t.Parallel()

	bundle := bundleSnippet(map[string]string{"berlin": "abcdefghijkl"})
	assert.Empty(t, candidateSecrets([]byte(bundle)))
}

func TestCandidateSecretsSkipsUnmatchedTimezones(t *testing.T) {
	t.Parallel()

	// Two seed pairs but only one has an info/extras block.
	bundle := bundleSnippet(map[string]string{"berlin": "abcdefghijkl"}) +
		`a.initialSeed("` + base64.StdEncoding.EncodeToString([]byte("mnopqrstuvwx")) + `",window.utimezone.lisbon)`

	secrets := candidateSecrets([]byte(bundle))
	require.Len(t, secrets, 1)
	assert.Equal(t, "abcdefghijkl", secrets[0])
}

func TestAppIDPattern(t *testing.T) {
	t.Parallel()

	m := appIDRe.FindStringSubmatch(`production:{api:{appId:"987654321",other:"x"}}`)
	require.NotNil(t, m)
	assert.Equal(t, "987654321", m[1])
}
