package blocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-market-monitor/internal/models"
)

func TestParseDetailPageSpecTable(t *testing.T) {
	html := `<html><head>
		<meta property="og:title" content="Volvo V60 - 2021 - Svart - 197hk - Kombi | BLOCKET"/>
	</head><body>
		<div><span>Växellåda</span><p>Automat</p></div>
		<div><span>Färg</span><p>Svart</p></div>
	</body></html>`

	patch := ParseDetailPage([]byte(html))

	require.NotNil(t, patch.Gearbox)
	assert.Equal(t, "Automat", *patch.Gearbox)
	require.NotNil(t, patch.Color)
	assert.Equal(t, "Svart", *patch.Color)
	require.NotNil(t, patch.BodyType)
	assert.Equal(t, "Kombi", *patch.BodyType)
	assert.False(t, patch.VATListed)
	assert.Nil(t, patch.SellerType)
}

func TestParseDetailPageGearboxFromDescription(t *testing.T) {
	html := `<html><head>
		<meta name="description" content="Säljes: Volvo V60 D4, manuell växellåda, nyservad."/>
	</head><body></body></html>`

	patch := ParseDetailPage([]byte(html))

	require.NotNil(t, patch.Gearbox)
	assert.Equal(t, "Manuell", *patch.Gearbox)
}

func TestParseDetailPageVATUpgradesSeller(t *testing.T) {
	html := `<html><body>
		<p>319 900 kr (255&nbsp;920 kr exkl. moms)</p>
	</body></html>`

	patch := ParseDetailPage([]byte(html))

	assert.True(t, patch.VATListed)
	require.NotNil(t, patch.PriceExVAT)
	assert.Equal(t, 255920, *patch.PriceExVAT)
	require.NotNil(t, patch.SellerType)
	assert.Equal(t, models.SellerTypeDealer, *patch.SellerType)
}

func TestParseDetailPageCityFromMapsLink(t *testing.T) {
	html := `<html><body>
		<a href="https://www.google.com/maps/search/?api=1&query=97334%20LULE%C3%85">Visa på karta</a>
	</body></html>`

	patch := ParseDetailPage([]byte(html))

	require.NotNil(t, patch.City)
	assert.Equal(t, "Luleå", *patch.City)
}

func TestParseDetailPageEmpty(t *testing.T) {
	patch := ParseDetailPage([]byte(`<html><body><p>inget intressant</p></body></html>`))
	assert.True(t, patch.Empty())
}

func TestNormalizeGearbox(t *testing.T) {
	assert.Equal(t, "Automat", *normalizeGearbox("Automatisk"))
	assert.Equal(t, "Manuell", *normalizeGearbox("manuell växellåda"))
	assert.Nil(t, normalizeGearbox("CVT okänd"))
}

func TestDetectRemoved(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"sold marker",
			`<html><body><h1>Den här annonsen är inte längre tillgänglig</h1></body></html>`,
			models.RemovedReasonSold,
		},
		{
			"sold or removed marker",
			`<html><body><p>Annonsen har sålts eller tagits bort.</p></body></html>`,
			models.RemovedReasonSold,
		},
		{
			"404 title",
			`<html><head><title>404</title></head><body></body></html>`,
			models.RemovedReasonNotFound,
		},
		{
			"blocket 404 page",
			`<html><body><h1>Här hittar du allt, förutom den sidan</h1></body></html>`,
			models.RemovedReasonNotFound,
		},
		{
			"live ad",
			`<html><body><h1>Volvo V60 till salu</h1></body></html>`,
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectRemoved([]byte(tt.body)))
		})
	}
}
