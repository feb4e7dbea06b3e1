package request

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ToJsonReq serializes a payload into a buffer suitable for an HTTP request
// body.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, errors.Wrap(e, "failed to marshal request payload")
	}

	bytePayload := bytes.NewBuffer(c)
	return bytePayload, nil
}

// Call sends the request as JSON and decodes the JSON response into the
// provided structure. Outbound calls get a bounded client so a stuck provider
// cannot wedge a worker.
func Call(req *http.Request, response interface{}) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 30 * time.Second}

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return resp, errors.Wrap(err, "failed to decode response body")
	}
	return resp, err
}
