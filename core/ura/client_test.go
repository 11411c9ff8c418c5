package ura

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailsResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <GetPRNDetails_GTPayResponse xmlns="http://tempuri.org/">
      <GetPRNDetails_GTPayResult>
        <Prn>PRN1234567890</Prn>
        <StatusCode>A</StatusCode>
        <StatusDesc>PAYE March 2026</StatusDesc>
        <Amount>150000</Amount>
        <CurrencyCode>UGX</CurrencyCode>
        <ExpiryDt>2026-04-01</ExpiryDt>
        <TaxpayerName>RITAH NAKATO</TaxpayerName>
      </GetPRNDetails_GTPayResult>
    </GetPRNDetails_GTPayResponse>
  </soap:Body>
</soap:Envelope>`

// The completion endpoint HTML-encodes the inner result payload.
const completeResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <UniversalUraCompleteTransactionResponse xmlns="http://tempuri.org/">
      <UniversalUraCompleteTransactionResult>&lt;STATUS&gt;Transaction Initiated&lt;/STATUS&gt;&lt;CODE&gt;1000&lt;/CODE&gt;&lt;PRN&gt;PRN1234567890&lt;/PRN&gt;&lt;REFERENCE&gt;REF-889900&lt;/REFERENCE&gt;</UniversalUraCompleteTransactionResult>
    </UniversalUraCompleteTransactionResponse>
  </soap:Body>
</soap:Envelope>`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		DetailsEndpoint:  srv.URL + "/details",
		CompleteEndpoint: srv.URL + "/complete",
		Timeout:          2 * time.Second,
	})
}

func TestGetPRNDetails(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/details", r.URL.Path)
		require.Equal(t, "text/xml; charset=utf-8", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		io.WriteString(w, detailsResponse)
	})

	res, err := c.GetPRNDetails(context.Background(), "PRN1234567890")
	require.NoError(t, err)
	assert.Contains(t, gotBody, "<prn>PRN1234567890</prn>")
	assert.Contains(t, gotBody, "GetPRNDetails_GTPay")

	assert.Equal(t, "PRN1234567890", res.PRN)
	assert.Equal(t, StatusActive, res.StatusCode)
	assert.Equal(t, "PAYE March 2026", res.StatusDesc)
	assert.Equal(t, "150000", res.Amount)
	assert.Equal(t, "UGX", res.CurrencyCode)
	assert.Equal(t, "2026-04-01", res.ExpiryDate)
	assert.Equal(t, "RITAH NAKATO", res.TaxpayerName)
}

func TestGetPRNDetailsStatusCodes(t *testing.T) {
	for _, code := range []string{StatusInvalid, StatusActive, StatusPaid} {
		resp := strings.Replace(detailsResponse, "<StatusCode>A</StatusCode>", "<StatusCode>"+code+"</StatusCode>", 1)
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, resp)
		})
		res, err := c.GetPRNDetails(context.Background(), "PRN1234567890")
		require.NoError(t, err)
		assert.Equal(t, code, res.StatusCode)
	}
}

func TestGetPRNDetailsEscapesInput(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, detailsResponse)
	})

	_, err := c.GetPRNDetails(context.Background(), "PRN<evil>&co")
	require.NoError(t, err)
	assert.Contains(t, gotBody, "<prn>PRN&lt;evil&gt;&amp;co</prn>")
}

func TestCompleteTransactionDecodesEntities(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/complete", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, completeResponse)
	})

	res, err := c.CompleteTransaction(context.Background(), "PRN1234567890", "256772123456")
	require.NoError(t, err)
	assert.Contains(t, gotBody, "<PhoneNumber>256772123456</PhoneNumber>")
	assert.Contains(t, gotBody, "<Prn>PRN1234567890</Prn>")

	assert.Equal(t, CodeCompleted, res.Code)
	assert.Equal(t, "Transaction Initiated", res.Status)
	assert.Equal(t, "PRN1234567890", res.PRN)
	assert.Equal(t, "REF-889900", res.Reference)
}

func TestCompleteTransactionInvalidPRN(t *testing.T) {
	resp := strings.NewReplacer(
		"1000", CodeInvalidPRN,
		"Transaction Initiated", "PRN does not exist",
	).Replace(completeResponse)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, resp)
	})

	res, err := c.CompleteTransaction(context.Background(), "PRN9999999999", "256772123456")
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidPRN, res.Code)
	assert.Equal(t, "PRN does not exist", res.Status)
}

func TestUpstreamErrorsSurface(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.GetPRNDetails(context.Background(), "PRN1234567890")
	assert.ErrorContains(t, err, "unavailable")

	_, err = c.CompleteTransaction(context.Background(), "PRN1234567890", "256772123456")
	assert.ErrorContains(t, err, "unavailable")
}

func TestMalformedResponseIsAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<html>not soap</html>")
	})
	_, err := c.GetPRNDetails(context.Background(), "PRN1234567890")
	assert.Error(t, err)
}
