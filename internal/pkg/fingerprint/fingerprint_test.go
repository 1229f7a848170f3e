package fingerprint

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest_StableAcrossCasing(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "/", nil)
	a.Header.Set("User-Agent", "ExampleApp/1.0")
	a.Header.Set("Accept-Language", "en-US")

	b := httptest.NewRequest(http.MethodGet, "/", nil)
	b.Header.Set("User-Agent", "exampleapp/1.0")
	b.Header.Set("Accept-Language", "EN-us")

	assert.Equal(t, FromRequest(a), FromRequest(b))
}

func TestFromRequest_DifferentDevicesDiffer(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "/", nil)
	a.Header.Set("User-Agent", "ExampleApp/1.0")

	b := httptest.NewRequest(http.MethodGet, "/", nil)
	b.Header.Set("User-Agent", "OtherApp/2.0")

	assert.NotEqual(t, FromRequest(a), FromRequest(b))
}

func TestFromRequest_NoHeadersYieldsEmpty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Del("User-Agent")
	assert.Empty(t, FromRequest(r))
}

func TestHashIP(t *testing.T) {
	assert.Equal(t, HashIP("1.2.3.4"), HashIP("1.2.3.4"))
	assert.NotEqual(t, HashIP("1.2.3.4"), HashIP("1.2.3.5"))
	assert.Len(t, HashIP("1.2.3.4"), 64)
}
