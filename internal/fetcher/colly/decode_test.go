package collyfetcher

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

func TestDecodeSniffsMissingContentType(t *testing.T) {
	t.Parallel()

	env, err := Decode("u", "", []byte(`  {"dados":{"id":1,"nome":"X"}}`))
	require.NoError(t, err)
	require.Equal(t, crawler.KindDetail, env.Kind)

	env, err = Decode("u", "", []byte(`<xml><dados><id>1</id><nome>X</nome></dados></xml>`))
	require.NoError(t, err)
	detail, err := env.Detail()
	require.NoError(t, err)
	require.Equal(t, "X", detail.String("nome"))

	_, err = Decode("u", "", []byte(`hello`))
	require.True(t, crawler.IsFatal(err))
}

func TestDecodeXMLShapes(t *testing.T) {
	t.Parallel()

	root, err := decodeXML([]byte(`<xml>
  <dados>
    <proposicao_ id="7"><siglaTipo>PL</siglaTipo></proposicao_>
  </dados>
  <links><link><rel>self</rel></link><link><rel>next</rel></link></links>
</xml>`))
	require.NoError(t, err)

	item := root.Object("dados", "proposicao_")
	require.Equal(t, "7", item.String("id"))
	require.Equal(t, "PL", item.String("siglaTipo"))
	require.Len(t, root.Objects("links", "link"), 2)

	empty, err := decodeXML([]byte(`<xml><dados/></xml>`))
	require.NoError(t, err)
	env, err := crawler.NewEnvelope("u", crawler.FormatXML, empty)
	require.NoError(t, err)
	items, err := env.Listing()
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = decodeXML([]byte(`<xml><dados>`))
	require.Error(t, err)
}

func TestDecodeXMLDetailWithSingleNestedElement(t *testing.T) {
	t.Parallel()

	env, err := Decode("u", "application/xml",
		[]byte(`<xml><dados><ultimoStatus><data>2023-02-01</data><siglaPartido>PT</siglaPartido></ultimoStatus></dados></xml>`))
	require.NoError(t, err)
	detail, err := env.Detail()
	require.NoError(t, err)
	require.Equal(t, "2023-02-01", detail.String("ultimoStatus", "data"))
	require.Equal(t, "PT", detail.String("ultimoStatus", "siglaPartido"))
}

func TestDecodeJSONRejectsNonObjects(t *testing.T) {
	t.Parallel()

	_, err := decodeJSON([]byte(`[1,2]`))
	require.Error(t, err)
	_, err = decodeJSON([]byte(`{"dados":[]} trailing`))
	require.Error(t, err)
	_, err = Decode("u", "application/json", []byte(`{"dados":[1]}`))
	require.True(t, crawler.IsFatal(err))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		err       error
		transient bool
	}{
		{name: "server error", status: http.StatusInternalServerError, err: errors.New("x"), transient: true},
		{name: "rate limited", status: http.StatusTooManyRequests, err: errors.New("x"), transient: true},
		{name: "bad request", status: http.StatusBadRequest, err: errors.New("x"), transient: false},
		{name: "not found", status: http.StatusNotFound, err: errors.New("x"), transient: false},
		{name: "reset", err: &net.OpError{Op: "read", Err: syscall.ECONNRESET}, transient: true},
		{name: "refused", err: syscall.ECONNREFUSED, transient: true},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "x"}, transient: true},
		{name: "bad url", err: &url.Error{Op: "parse", URL: "::", Err: errors.New("missing scheme")}, transient: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fe := Classify("http://x", tc.status, tc.err)
			require.Equal(t, tc.transient, fe.Kind == crawler.KindTransient)
			require.ErrorIs(t, fe, tc.err)
		})
	}
}
