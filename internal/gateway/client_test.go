package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeGateway(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, MerchantID: "merchant-1", Timeout: time.Second})
}

func TestRequestPaymentAccepted(t *testing.T) {
	var got requestBody
	c := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, requestPath, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"data":{"code":100,"message":"Success","authority":"A0000000000000000000000000000001234"},"errors":[]}`))
	})

	res, err := c.RequestPayment(context.Background(), RequestInput{
		Amount:      250,
		CallbackURL: "http://localhost/api/v1/payments/verify",
		Description: "order",
	})
	require.NoError(t, err)

	assert.True(t, res.Accepted())
	assert.Equal(t, "A0000000000000000000000000000001234", res.Authority)
	assert.Equal(t, int64(250), got.Amount)
	assert.Equal(t, "merchant-1", got.MerchantID)
	assert.Equal(t, c.baseURL+"/pg/StartPay/A0000000000000000000000000000001234", c.StartPayURL(res.Authority))
}

func TestRequestPaymentRejected(t *testing.T) {
	c := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[],"errors":{"code":-9,"message":"The input params invalid","validations":[]}}`))
	})

	res, err := c.RequestPayment(context.Background(), RequestInput{Amount: 1})
	require.NoError(t, err)
	assert.False(t, res.Accepted())
	assert.Equal(t, -9, res.Code)
}

func TestVerifyNumericRefID(t *testing.T) {
	c := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, verifyPath, r.URL.Path)
		w.Write([]byte(`{"data":{"code":100,"ref_id":201,"card_pan":"502229******5995"},"errors":[]}`))
	})

	res, err := c.Verify(context.Background(), VerifyInput{Amount: 250, Authority: "A1"})
	require.NoError(t, err)
	assert.True(t, res.Verified())
	assert.Equal(t, "201", res.RefID)
	assert.Contains(t, string(res.Raw), "card_pan")
}

func TestVerifyAlreadyVerified(t *testing.T) {
	c := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"code":101,"ref_id":"201"},"errors":[]}`))
	})

	res, err := c.Verify(context.Background(), VerifyInput{Amount: 250, Authority: "A1"})
	require.NoError(t, err)
	assert.True(t, res.Verified())
}

func TestNon200IsGatewayError(t *testing.T) {
	c := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`oops`))
	})

	_, err := c.Verify(context.Background(), VerifyInput{Authority: "A1"})
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusInternalServerError, gwErr.StatusCode)
	assert.False(t, gwErr.Timeout)
}

func TestMalformedPayload(t *testing.T) {
	c := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := c.RequestPayment(context.Background(), RequestInput{Amount: 1})
	var gwErr *Error
	assert.True(t, errors.As(err, &gwErr))
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := c.Verify(context.Background(), VerifyInput{Authority: "A1"})
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.True(t, gwErr.Timeout)
}
