package i18n_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tiliavir/t2r/internal/i18n"
)

func TestEnglishFallback(t *testing.T) {
	for _, tag := range []string{"", "en", "xx-invalid-tag"} {
		p := i18n.NewPrinter(tag)
		assert.Equal(t, i18n.MsgWorkItemNotFound, p.Sprintf(i18n.MsgWorkItemNotFound), "tag %q", tag)
	}
}

func TestFormattedMessage(t *testing.T) {
	p := i18n.NewPrinter("en")
	assert.Equal(t, "published as time entry #42", p.Sprintf(i18n.MsgPublished, "42"))
}

func TestPublishedIDKeepsDigits(t *testing.T) {
	assert.Equal(t, "published as time entry #5001", i18n.NewPrinter("en-GB").Sprintf(i18n.MsgPublished, "5001"))
	assert.Equal(t, "als Zeiteintrag #123456 veröffentlicht", i18n.NewPrinter("de").Sprintf(i18n.MsgPublished, "123456"))
}

func TestGermanLookup(t *testing.T) {
	p := i18n.NewPrinter("de")
	assert.Equal(t, "Aktivität fehlt.", p.Sprintf(i18n.MsgMissingActivity))
}
