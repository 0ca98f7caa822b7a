package extractor

import (
	"testing"

	"creepwatch/internal/scraper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataPage = `<html><body>
<h1>Creep rig</h1>
<div id="reading"> 12.34 mm </div>
<span class="temp" data-value="21.5">21.5 °C</span>
</body></html>`

const loginPage = `<html><body>
<form action="/login/index.php" method="post">
<input type="text" name="username"><input type="password" name="password">
</form></body></html>`

const emptyReadingPage = `<html><body><div id="reading">  </div></body></html>`

const otherPage = `<html><body><p>Maintenance in progress</p><script>var x = 1;</script></body></html>`

func snap(html string) *scraper.Snapshot {
	return &scraper.Snapshot{HTML: html, URL: "https://learn5.open.ac.uk/mod/htmlactivity/view.php?id=1"}
}

func TestState(t *testing.T) {
	e := NewExtractor(Selectors{Value: "#reading"})

	assert.Equal(t, StateDataPresent, e.State(snap(dataPage)))
	assert.Equal(t, StateLoginPresent, e.State(snap(loginPage)))
	assert.Equal(t, StateUnknown, e.State(snap(otherPage)))
	assert.Equal(t, StateUnknown, e.State(snap(emptyReadingPage)))
	assert.Equal(t, StateUnknown, e.State(snap("")))
	assert.Equal(t, StateUnknown, e.State(nil))
}

func TestState_LoginURL(t *testing.T) {
	e := NewExtractor(Selectors{Value: "#reading", LoginURLContains: "/login/"})

	s := &scraper.Snapshot{HTML: otherPage, URL: "https://learn5.open.ac.uk/login/index.php"}
	assert.Equal(t, StateLoginPresent, e.State(s))
}

func TestState_DataWinsOverLoginForm(t *testing.T) {
	e := NewExtractor(Selectors{Value: "#reading"})
	page := `<html><body><div id="reading">3.1</div><form><input type="password"></form></body></html>`

	assert.Equal(t, StateDataPresent, e.State(snap(page)))
}

func TestExtract(t *testing.T) {
	e := NewExtractor(Selectors{Value: "#reading"})

	v, err := e.Extract(snap(dataPage))
	require.NoError(t, err)
	assert.Equal(t, "12.34 mm", v)
}

func TestExtract_Attribute(t *testing.T) {
	e := NewExtractor(Selectors{Value: ".temp", ValueAttr: "data-value"})

	v, err := e.Extract(snap(dataPage))
	require.NoError(t, err)
	assert.Equal(t, "21.5", v)
}

func TestExtract_Errors(t *testing.T) {
	e := NewExtractor(Selectors{Value: "#reading"})

	_, err := e.Extract(snap(loginPage))
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = e.Extract(snap(otherPage))
	assert.ErrorIs(t, err, ErrElementNotFound)

	_, err = e.Extract(snap(emptyReadingPage))
	assert.ErrorIs(t, err, ErrTransientDOMState)

	_, err = e.Extract(snap("   "))
	assert.ErrorIs(t, err, ErrTransientDOMState)
}

func TestExtract_CustomLoginSelector(t *testing.T) {
	e := NewExtractor(Selectors{Value: "#reading", Login: "#sso-login"})

	_, err := e.Extract(snap(`<html><body><div id="sso-login">Sign in</div></body></html>`))
	assert.ErrorIs(t, err, ErrSessionExpired)

	// The default password-form check no longer applies.
	_, err = e.Extract(snap(loginPage))
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestDigest(t *testing.T) {
	d := Digest(snap(otherPage), 0)
	assert.Contains(t, d, "Maintenance in progress")
	assert.NotContains(t, d, "var x")

	short := Digest(snap(otherPage), 5)
	assert.Equal(t, "Maint…", short)

	assert.Equal(t, "", Digest(snap(""), 10))
}

func TestPageState_String(t *testing.T) {
	assert.Equal(t, "data", StateDataPresent.String())
	assert.Equal(t, "login", StateLoginPresent.String())
	assert.Equal(t, "unknown", StateUnknown.String())
}
