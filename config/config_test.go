package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/qoget/config"
)

func TestParseNewFormatQobuzOnly(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse([]byte(`
[qobuz]
username = "user@example.com"
password = "secret"
`))
	require.NoError(t, err)

	assert.Equal(t, config.QobuzReady, conf.Qobuz.State())
	assert.Equal(t, "user@example.com", conf.Qobuz.Username)
	assert.Equal(t, "secret", conf.Qobuz.Password)
	assert.Empty(t, conf.Qobuz.AppID)
	assert.False(t, conf.Bandcamp.Configured())
}

func TestParseNewFormatBothServices(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse([]byte(`
[qobuz]
username = "user@example.com"
password = "secret"

[bandcamp]
identity_cookie = "6%09abc"
`))
	require.NoError(t, err)

	assert.Equal(t, config.QobuzReady, conf.Qobuz.State())
	require.True(t, conf.Bandcamp.Configured())
	assert.Equal(t, "6%09abc", conf.Bandcamp.IdentityCookie)
}

func TestParseOldFormatBareKeys(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse([]byte(`
username = "user@example.com"
password = "secret"
`))
	require.NoError(t, err)

	assert.Equal(t, config.QobuzReady, conf.Qobuz.State())
	assert.Equal(t, "user@example.com", conf.Qobuz.Username)
	assert.Equal(t, "secret", conf.Qobuz.Password)
	assert.False(t, conf.Bandcamp.Configured())
}

func TestParseMixedBareKeysAndBandcampSection(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse([]byte(`
username = "user@example.com"
password = "secret"

[bandcamp]
identity_cookie = "cookie-val"
`))
	require.NoError(t, err)

	assert.Equal(t, config.QobuzReady, conf.Qobuz.State())
	assert.True(t, conf.Bandcamp.Configured())
}

func TestParseBandcampOnly(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse([]byte(`
[bandcamp]
identity_cookie = "cookie-val"
`))
	require.NoError(t, err)

	assert.Equal(t, config.QobuzNotConfigured, conf.Qobuz.State())
	require.True(t, conf.Bandcamp.Configured())
	assert.Equal(t, "cookie-val", conf.Bandcamp.IdentityCookie)
}

func TestParseEmptyConfig(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, config.QobuzNotConfigured, conf.Qobuz.State())
	assert.False(t, conf.Bandcamp.Configured())
}

func TestParseSectionTakesPrecedenceOverBareKeys(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse([]byte(`
username = "bare@example.com"
password = "bare-pass"

[qobuz]
username = "section@example.com"
password = "section-pass"
`))
	require.NoError(t, err)

	assert.Equal(t, "section@example.com", conf.Qobuz.Username)
	assert.Equal(t, "section-pass", conf.Qobuz.Password)
}

func TestParseAppCredentialsFromSection(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse([]byte(`
[qobuz]
username = "user@example.com"
password = "secret"
app_id = "123456789"
app_secret = "abc-secret"
`))
	require.NoError(t, err)

	assert.Equal(t, "123456789", conf.Qobuz.AppID)
	assert.Equal(t, "abc-secret", conf.Qobuz.AppSecret)
}

func TestParseAppCredentialsFromBareKeys(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse([]byte(`
username = "user@example.com"
password = "secret"
app_id = "987654321"
app_secret = "xyz-secret"
`))
	require.NoError(t, err)

	assert.Equal(t, "987654321", conf.Qobuz.AppID)
	assert.Equal(t, "xyz-secret", conf.Qobuz.AppSecret)
}

func TestParseEmptyUsernameMeansNotConfigured(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse([]byte(`
[qobuz]
username = ""
password = "secret"
`))
	require.NoError(t, err)

	assert.Equal(t, config.QobuzNotConfigured, conf.Qobuz.State())
}

func TestParseUsernameWithoutPasswordIsIncomplete(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name    string
		Content string
	}{
		{Name: "section", Content: "[qobuz]\nusername = \"user@example.com\"\n"},
		{Name: "bare keys", Content: "username = \"user@example.com\"\n"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			t.Parallel()

			conf, err := config.Parse([]byte(testCase.Content))
			require.NoError(t, err)
			assert.Equal(t, config.QobuzIncomplete, conf.Qobuz.State())
		})
	}
}

func TestParseEmptyBandcampCookieNotConfigured(t *testing.T) {
	t.Parallel()

	conf, err := config.Parse([]byte(`
[bandcamp]
identity_cookie = ""
`))
	require.NoError(t, err)

	assert.False(t, conf.Bandcamp.Configured())
}

func TestLoadAppliesEnvOverrides(t *testing.T) { //nolint:paralleltest
	t.Setenv("QOBUZ_USERNAME", "env@example.com")
	t.Setenv("QOBUZ_PASSWORD", "env-pass")
	t.Setenv("BANDCAMP_IDENTITY", "env-cookie")

	confPath := filepath.Join(t.TempDir(), "config.toml")
	content := []byte(`
[qobuz]
username = "file@example.com"
password = "file-pass"

[bandcamp]
identity_cookie = "file-cookie"
`)
	require.NoError(t, os.WriteFile(confPath, content, 0o600))

	conf, err := config.Load(confPath)
	require.NoError(t, err)

	assert.Equal(t, "env@example.com", conf.Qobuz.Username)
	assert.Equal(t, "env-pass", conf.Qobuz.Password)
	assert.Equal(t, "env-cookie", conf.Bandcamp.IdentityCookie)
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) { //nolint:paralleltest
	t.Setenv("QOBUZ_USERNAME", "env@example.com")
	t.Setenv("QOBUZ_PASSWORD", "env-pass")
	t.Setenv("BANDCAMP_IDENTITY", "")

	conf, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)

	assert.Equal(t, config.QobuzReady, conf.Qobuz.State())
	assert.False(t, conf.Bandcamp.Configured())
	assert.Equal(t, "info", conf.Log.Level)
	assert.Equal(t, "pretty", conf.Log.Format)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Parallel()

	confPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(confPath, []byte("[log]\nlevel = \"verbose\"\n"), 0o600))

	_, err := config.Load(confPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "level")
}
