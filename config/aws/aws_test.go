package aws

import (
	"io/ioutil"
	"net/http"
	"strings"
	"testing"
)

type mockTransport struct{}

func (t *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	response := &http.Response{
		Header:     make(http.Header),
		Request:    req,
		StatusCode: http.StatusOK,
	}
	response.Header.Set("Content-Type", "application/json")

	fakeResponseBody := `{"kernelId" : null,"region":"eu-west-1","instanceId":"i-0abc"}`
	response.Body = ioutil.NopCloser(strings.NewReader(fakeResponseBody))
	return response, nil
}

func TestGetIdentity(t *testing.T) {
	mockClient := &http.Client{Transport: &mockTransport{}}

	got, err := getIdentity(mockClient)
	if err != nil {
		t.Fatal(err)
	}
	if got.Region != "eu-west-1" {
		t.Fatalf("region = %s, want eu-west-1", got.Region)
	}
	if got.InstanceID != "i-0abc" {
		t.Fatalf("instance id = %s, want i-0abc", got.InstanceID)
	}
}
