package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	d := NewLanguageDetector("en", 0)

	code, err := d.Detect("Der schnelle braune Fuchs springt über den faulen Hund und läuft in den Wald.")
	require.NoError(t, err)
	assert.Equal(t, "de", code)

	code, err = d.Detect("Le petit prince demanda au renard pourquoi les hommes ont oublié cette vérité.")
	require.NoError(t, err)
	assert.Equal(t, "fr", code)
}

func TestDetectFallsBackToDefault(t *testing.T) {
	d := NewLanguageDetector("EN", 100)

	for _, text := range []string{"", "   ", "12345 67890 !!!", "\xff\xfe\xfd"} {
		code, err := d.Detect(text)
		assert.Equal(t, "en", code)
		assert.ErrorIs(t, err, ErrDetection)
	}
}

func TestSampleText(t *testing.T) {
	assert.Equal(t, "héll", sampleText("héllo", 4))
	assert.Equal(t, "a b", sampleText("a\xffb", 10))
}
